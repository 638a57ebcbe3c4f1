package browser

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// ClientConfig tunes the underlying HTTP client.
type ClientConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
}

// DefaultClientConfig mirrors a desktop browser: generous timeout,
// bounded redirect chain, Chrome-like user agent.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      30 * time.Second,
		MaxRedirects: 10,
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// newRestyClient builds the resty client a session issues requests
// through. Cookie handling is ours (the session's jar), so the default
// client jar resty installs is removed: with two jars live, Set-Cookie
// responses get absorbed twice and every request carries duplicate
// Cookie pairs under two different matching models. There is no
// automatic retry: a failed request is a normal, observable outcome for
// the caller. The only retry-like behavior is bounded redirect
// following.
func newRestyClient(cfg ClientConfig) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}

	transport := retryablehttp.NewClient().HTTPClient.Transport

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.MaxRedirects)).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	client.SetTransport(transport)
	client.SetCookieJar(nil)

	return client
}

// newLimiter returns an unlimited rate limiter; callers can lower it
// with Session.SetRateLimit.
func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 0)
}
