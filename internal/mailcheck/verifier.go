// Package mailcheck exposes email verification to the engine as a single
// blocking capability. The IMAP mechanics live behind the Verifier interface;
// this package owns only the pieces the engine must get right: resolving
// which mail host serves an account and bounding the fetch with the
// configured timeout.
package mailcheck

import (
	"context"
	"fmt"

	"github.com/solazh/hivefarm/internal/domain"
)

// ErrNoIMAPServer is returned when neither the account nor the configured
// domain map names a mail host for the account's domain. It wraps
// domain.ErrConfiguration so the retry policy abandons instead of retrying a
// failure no retry can fix.
var ErrNoIMAPServer = fmt.Errorf("%w: no IMAP server for email domain", domain.ErrConfiguration)

// Verifier fetches the confirmation code mailed to an account during
// registration. Implementations block until the code arrives, the context
// expires, or the mailbox errors; timeouts must be wrapped with
// domain.ErrVerificationTimeout.
type Verifier interface {
	FetchVerificationCode(ctx context.Context, account *domain.Account, imapHost string, proxyURL string) (string, error)
}

// HostResolver maps an account to its IMAP host: the account's fixed host
// when the input file carried one, otherwise the configured domain map.
type HostResolver struct {
	servers map[string]string
}

// NewHostResolver builds a resolver over the imap_settings.servers map.
func NewHostResolver(servers map[string]string) *HostResolver {
	return &HostResolver{servers: servers}
}

// Resolve returns the IMAP host for the account, or ErrNoIMAPServer when the
// account has no fixed host and its domain is absent from the map.
func (r *HostResolver) Resolve(account *domain.Account) (string, error) {
	if account.IMAPHost != "" {
		return account.IMAPHost, nil
	}
	domainPart := account.EmailDomain()
	if host, ok := r.servers[domainPart]; ok && host != "" {
		return host, nil
	}
	return "", fmt.Errorf("%w: domain %q", ErrNoIMAPServer, domainPart)
}
