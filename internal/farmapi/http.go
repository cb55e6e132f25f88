package farmapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	xproxy "golang.org/x/net/proxy"

	"github.com/solazh/hivefarm/internal/domain"
)

// defaultUserAgent is presented on requests not bound to a specific device.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// HTTPOptions configure the resty-backed client.
type HTTPOptions struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPClient implements Client over HTTP with a per-instance proxy binding.
// One instance serves one attempt; rotation builds a new instance through the
// Factory so the transport never shares proxy state between attempts.
type HTTPClient struct {
	rc *resty.Client
}

// Ensure HTTPClient implements the Client interface
var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client bound to proxyURL ("" = direct). SOCKS
// proxies get a custom dialer; HTTP(S) proxies go through the standard
// transport proxy function.
func NewHTTPClient(opts HTTPOptions, proxyURL string) (*HTTPClient, error) {
	rc := resty.New().
		SetBaseURL(opts.BaseURL).
		SetHeader("User-Agent", defaultUserAgent).
		SetTimeout(opts.Timeout)

	if proxyURL != "" {
		switch {
		case strings.HasPrefix(proxyURL, "socks"):
			transport, err := socksTransport(proxyURL)
			if err != nil {
				return nil, fmt.Errorf("failed to build socks transport: %w", err)
			}
			rc.SetTransport(transport)
		default:
			rc.SetProxy(proxyURL)
		}
	}

	return &HTTPClient{rc: rc}, nil
}

// socksTransport returns an http.Transport dialing through the given SOCKS
// proxy URI.
func socksTransport(proxyURL string) (*http.Transport, error) {
	u, err := parseSocksURL(proxyURL)
	if err != nil {
		return nil, err
	}

	var auth *xproxy.Auth
	if u.user != "" {
		auth = &xproxy.Auth{User: u.user, Password: u.password}
	}

	dialer, err := xproxy.SOCKS5("tcp", u.host, auth, xproxy.Direct)
	if err != nil {
		return nil, err
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}, nil
}

type socksURL struct {
	host     string
	user     string
	password string
}

func parseSocksURL(raw string) (socksURL, error) {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	var out socksURL
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		creds := rest[:at]
		rest = rest[at+1:]
		if colon := strings.Index(creds, ":"); colon >= 0 {
			out.user, out.password = creds[:colon], creds[colon+1:]
		} else {
			out.user = creds
		}
	}
	if rest == "" {
		return out, fmt.Errorf("invalid socks proxy %q", raw)
	}
	out.host = rest
	return out, nil
}

// Register implements Client.Register.
func (c *HTTPClient) Register(ctx context.Context, email string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{"email": email, "create_user": true}).
		Post("/auth/v1/otp")
	return classify(err, resp)
}

// Verify implements Client.Verify.
func (c *HTTPClient) Verify(ctx context.Context, code string) (string, error) {
	var out struct {
		SessionToken string `json:"session_token"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{"code": code}).
		SetResult(&out).
		Post("/auth/v1/verify")
	if err := classify(err, resp); err != nil {
		return "", err
	}
	if out.SessionToken == "" {
		return "", fmt.Errorf("%w: verify returned empty session token", domain.ErrAuth)
	}
	return out.SessionToken, nil
}

// Login implements Client.Login.
func (c *HTTPClient) Login(ctx context.Context, sessionToken string) (LoginResult, error) {
	var out struct {
		Token          string `json:"token"`
		SignupRequired bool   `json:"isSignupRequired"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]any{"sessionToken": sessionToken}).
		SetResult(&out).
		Post("/api/auth/login")
	if err := classify(err, resp); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: out.Token, SignupRequired: out.SignupRequired}, nil
}

// CompleteSignUp implements Client.CompleteSignUp.
func (c *HTTPClient) CompleteSignUp(ctx context.Context, authToken, referralCode string) error {
	body := map[string]any{}
	if referralCode != "" {
		body["alias"] = referralCode
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(authToken).
		SetBody(body).
		Post("/api/user/sign-up/complete")
	return classify(err, resp)
}

// OwnReferralCode implements Client.OwnReferralCode.
func (c *HTTPClient) OwnReferralCode(ctx context.Context, authToken string) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(authToken).
		SetResult(&out).
		Get("/api/user/referral-code")
	if err := classify(err, resp); err != nil {
		return "", err
	}
	return out.Code, nil
}

// RefreshToken implements Client.RefreshToken.
func (c *HTTPClient) RefreshToken(ctx context.Context, authToken string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(authToken).
		SetResult(&out).
		Post("/api/auth/refresh")
	if err := classify(err, resp); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: refresh returned empty token", domain.ErrAuth)
	}
	return out.Token, nil
}

// Ping implements Client.Ping.
func (c *HTTPClient) Ping(ctx context.Context, authToken string, device *domain.Device) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(authToken).
		SetHeader("User-Agent", device.UserAgent).
		SetBody(devicePayload(device)).
		Post("/api/device/ping")
	return classify(err, resp)
}

// RequestJob implements Client.RequestJob.
func (c *HTTPClient) RequestJob(ctx context.Context, authToken string, device *domain.Device) (*Job, error) {
	var out struct {
		ID             string `json:"id"`
		TargetURL      string `json:"url"`
		Rules          string `json:"rules"`
		TimeoutSeconds int    `json:"timeout"`
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(authToken).
		SetHeader("User-Agent", device.UserAgent).
		SetBody(devicePayload(device)).
		SetResult(&out).
		Post("/api/device/job")
	if err := classify(err, resp); err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNoContent || out.ID == "" {
		return nil, nil
	}
	return &Job{
		ID:             out.ID,
		TargetURL:      out.TargetURL,
		Rules:          out.Rules,
		TimeoutSeconds: out.TimeoutSeconds,
	}, nil
}

// CompleteJob implements Client.CompleteJob.
func (c *HTTPClient) CompleteJob(ctx context.Context, authToken string, device *domain.Device, jobID string, result map[string]any) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(authToken).
		SetHeader("User-Agent", device.UserAgent).
		SetBody(map[string]any{
			"device_id": device.DeviceID,
			"job_id":    jobID,
			"result":    result,
		}).
		Post("/api/device/job/complete")
	return classify(err, resp)
}

// devicePayload is the fingerprint block sent with device-scoped calls.
func devicePayload(device *domain.Device) map[string]any {
	return map[string]any{
		"device_id":        device.DeviceID,
		"user_agent":       device.UserAgent,
		"cpu_architecture": device.CPUArchitecture,
		"cpu_model":        device.CPUModel,
		"cpu_count":        device.CPUCount,
		"os":               device.OS,
	}
}

// NewFactory returns a Factory producing HTTP clients with the given options.
func NewFactory(opts HTTPOptions) Factory {
	return func(proxyURL string) (Client, error) {
		return NewHTTPClient(opts, proxyURL)
	}
}
