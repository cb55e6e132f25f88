package farmapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/solazh/hivefarm/internal/domain"
	"github.com/solazh/hivefarm/internal/redact"
)

// terminalMarkers are response fragments that identify failures no retry can
// fix: the account is banned, suspended, or the email is already taken.
var terminalMarkers = []string{
	"already exist",
	"has been suspended",
	"banned",
	"not allowed to do measurement",
}

// classify maps a transport error or an HTTP response onto the domain failure
// sentinels. A nil return means the request succeeded.
func classify(err error, resp *resty.Response) error {
	if err != nil {
		// resty returns transport-level failures here: dialer errors,
		// proxy failures, timeouts. Dialer errors embed the proxy URI,
		// credentials included, so the message is scrubbed.
		return fmt.Errorf("%w: %s", domain.ErrConnection, redact.Error(err))
	}
	if resp == nil {
		return fmt.Errorf("%w: no response", domain.ErrConnection)
	}
	if resp.IsSuccess() {
		return nil
	}

	status := resp.StatusCode()
	body := strings.ToLower(string(resp.Body()))

	for _, marker := range terminalMarkers {
		if strings.Contains(body, marker) {
			return fmt.Errorf("%w: %s (status %d)", domain.ErrTerminal, snippet(body), status)
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrAuth, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrRateLimited, status)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: server error %d", domain.ErrConnection, status)
	default:
		// Remaining 4xx responses mean the request itself is wrong;
		// retrying the identical request cannot help.
		return fmt.Errorf("%w: unexpected status %d: %s", domain.ErrTerminal, status, snippet(body))
	}
}

// snippet truncates a response body for error messages.
func snippet(body string) string {
	const max = 120
	body = strings.TrimSpace(body)
	if len(body) > max {
		return body[:max] + "..."
	}
	return body
}
