package mailcheck

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	xproxy "golang.org/x/net/proxy"

	"github.com/solazh/hivefarm/internal/domain"
)

// imapsPort is the implicit-TLS IMAP port used when the host carries none.
const imapsPort = "993"

// defaultPollInterval is how often the mailbox is re-checked while waiting
// for the verification mail.
const defaultPollInterval = 5 * time.Second

// searchWindow bounds how far back the unseen-message search looks; the
// verification mail is always freshly sent.
const searchWindow = 15 * time.Minute

// codePattern matches the six-digit confirmation code in the mail body.
var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// IMAPVerifier fetches verification codes over IMAP. It polls the account's
// inbox until an unseen message yields a code or the context expires.
type IMAPVerifier struct {
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ Verifier = (*IMAPVerifier)(nil)

// NewIMAPVerifier builds a verifier with the default poll interval.
func NewIMAPVerifier(logger *slog.Logger) *IMAPVerifier {
	return &IMAPVerifier{
		pollInterval: defaultPollInterval,
		logger:       logger,
	}
}

// FetchVerificationCode implements Verifier. The caller bounds the wait
// through ctx; expiry is reported as a verification timeout.
func (v *IMAPVerifier) FetchVerificationCode(ctx context.Context, account *domain.Account, imapHost, proxyURL string) (string, error) {
	logger := v.logger.With("email", account.Email, "imap_host", imapHost)

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		code, err := v.pollOnce(ctx, account, imapHost, proxyURL)
		if err == nil && code != "" {
			logger.Debug("verification code found")
			return code, nil
		}
		if err != nil {
			if !domain.Classify(err).Retriable() {
				return "", err
			}
			logger.Debug("mailbox poll failed, will retry", "error", err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: no code after polling %s", domain.ErrVerificationTimeout, imapHost)
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce logs in, searches recent unseen mail, and extracts a code from the
// newest match. A clean poll with no code returns ("", nil).
func (v *IMAPVerifier) pollOnce(ctx context.Context, account *domain.Account, imapHost, proxyURL string) (string, error) {
	client, err := v.dial(ctx, imapHost, proxyURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	if err := client.Login(account.Email, account.Password).Wait(); err != nil {
		return "", fmt.Errorf("%w: IMAP login: %v", domain.ErrAuth, err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return "", fmt.Errorf("%w: selecting INBOX: %v", domain.ErrConnection, err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   time.Now().Add(-searchWindow),
	}
	search, err := client.Search(criteria, nil).Wait()
	if err != nil {
		return "", fmt.Errorf("%w: searching mailbox: %v", domain.ErrConnection, err)
	}

	nums := search.AllSeqNums()
	if len(nums) == 0 {
		return "", nil
	}

	// Newest message first; the verification mail is the latest arrival.
	var seqSet imap.SeqSet
	seqSet.AddNum(nums[len(nums)-1])

	fetch := client.Fetch(seqSet, &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierText},
		},
	})
	defer func() { _ = fetch.Close() }()

	for {
		msg := fetch.Next()
		if msg == nil {
			break
		}
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			section, ok := item.(imapclient.FetchItemDataBodySection)
			if !ok {
				continue
			}
			body, err := io.ReadAll(section.Literal)
			if err != nil {
				return "", fmt.Errorf("%w: reading message body: %v", domain.ErrConnection, err)
			}
			if code := ExtractCode(string(body)); code != "" {
				return code, nil
			}
		}
	}
	return "", nil
}

// dial opens a TLS connection to the IMAP host, through a SOCKS proxy when
// one is given. HTTP proxies cannot carry raw IMAP; those fall back to a
// direct connection.
func (v *IMAPVerifier) dial(ctx context.Context, imapHost, proxyURL string) (*imapclient.Client, error) {
	addr := imapHost
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(imapHost, imapsPort)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid IMAP host %q", domain.ErrConfiguration, imapHost)
	}

	conn, err := v.dialRaw(ctx, addr, proxyURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", domain.ErrConnection, addr, err)
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: TLS handshake with %s: %v", domain.ErrConnection, addr, err)
	}

	return imapclient.New(tlsConn, nil), nil
}

func (v *IMAPVerifier) dialRaw(ctx context.Context, addr, proxyURL string) (net.Conn, error) {
	var dialer xproxy.ContextDialer = &net.Dialer{Timeout: 30 * time.Second}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err == nil && strings.HasPrefix(u.Scheme, "socks") {
			var auth *xproxy.Auth
			if u.User != nil {
				password, _ := u.User.Password()
				auth = &xproxy.Auth{User: u.User.Username(), Password: password}
			}
			socks, err := xproxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{Timeout: 30 * time.Second})
			if err != nil {
				return nil, err
			}
			if cd, ok := socks.(xproxy.ContextDialer); ok {
				dialer = cd
			}
		} else {
			v.logger.Debug("proxy scheme cannot carry IMAP, connecting directly", "proxy", proxyURL)
		}
	}

	return dialer.DialContext(ctx, "tcp", addr)
}

// ExtractCode pulls the first six-digit confirmation code out of a mail body.
func ExtractCode(body string) string {
	match := codePattern.FindStringSubmatch(body)
	if match == nil {
		return ""
	}
	return match[1]
}
