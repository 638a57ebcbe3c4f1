// Package browser implements the stateful, cookie-aware pseudo-browser
// HTTP client scoped to one sandbox: navigation, form submission,
// credentialed login, and file download. It fetches and inspects raw
// responses only; there is no rendering or script execution.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spindle-dev/spindle/internal/credentials"
	"github.com/spindle-dev/spindle/internal/events"
	"github.com/spindle-dev/spindle/internal/logging"
	"github.com/spindle-dev/spindle/internal/metrics"
)

var (
	// ErrSessionClosed is returned when an operation is attempted on a
	// closed session. This is caller misuse, not a network outcome, so
	// unlike transport failures it surfaces as a Go error.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrNoCredentials is returned by Login when the credential store
	// has no entry for the target domain.
	ErrNoCredentials = errors.New("no stored credentials for domain")
)

// cookieFileName is the jar's on-disk name under the session data dir.
const cookieFileName = "cookies.json"

// PageResult is the in-band outcome of Navigate and SubmitForm. A
// failed HTTP call is a normal result the caller inspects, not an
// exception: Error carries the transport or status problem and the
// other fields hold whatever was observable.
type PageResult struct {
	URL     string            `json:"url"`
	Status  int               `json:"status"`
	Content string            `json:"content"`
	Title   string            `json:"title,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// OK reports whether the fetch succeeded with a 2xx status.
func (r *PageResult) OK() bool {
	return r.Error == "" && r.Status >= 200 && r.Status < 300
}

// Options configures a new session.
type Options struct {
	// SandboxID doubles as the session id: a sandbox has at most one
	// browser session.
	SandboxID string
	// DataDir receives downloads and the persisted cookie jar.
	DataDir     string
	Client      ClientConfig
	Credentials *credentials.Store
	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
}

// Session is a stateful HTTP client with its own cookie jar.
type Session struct {
	id      string
	dataDir string

	client  *resty.Client
	limiter *rate.Limiter
	jar     *Jar
	creds   *credentials.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu         sync.RWMutex
	currentURL string
	active     bool
}

// New creates a session rooted at dataDir. A cookie jar persisted by a
// previous session on the same directory is picked up; a corrupt jar
// file is logged and ignored.
func New(opts Options) (*Session, error) {
	if opts.SandboxID == "" {
		return nil, fmt.Errorf("browser session requires a sandbox id")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("browser session requires a data directory")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	cfg := opts.Client
	if cfg == (ClientConfig{}) {
		cfg = DefaultClientConfig()
	}

	s := &Session{
		id:      opts.SandboxID,
		dataDir: opts.DataDir,
		client:  newRestyClient(cfg),
		limiter: newLimiter(),
		jar:     NewJar(),
		creds:   opts.Credentials,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  logger.Named("browser").With(zap.String("sandbox_id", opts.SandboxID)),
		active:  true,
	}

	if err := s.jar.Load(filepath.Join(opts.DataDir, cookieFileName)); err != nil {
		s.logger.Warn("cookie jar unreadable, starting empty", zap.Error(err))
	}

	s.publish(events.BrowserCreated, map[string]any{"data_dir": opts.DataDir})

	return s, nil
}

// ID returns the session id (the owning sandbox's id).
func (s *Session) ID() string { return s.id }

// DataDir returns the session's download/state directory.
func (s *Session) DataDir() string { return s.dataDir }

// IsActive reports whether the session accepts requests.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// CurrentURL returns the last successfully reached URL.
func (s *Session) CurrentURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentURL
}

// Cookies returns a deep copy of the jar contents.
func (s *Session) Cookies() map[string]map[string]string {
	return s.jar.Snapshot()
}

// SetRateLimit caps outgoing requests per second; rps <= 0 removes the
// cap.
func (s *Session) SetRateLimit(rps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rps <= 0 {
		s.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		s.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

// Navigate issues a GET. Cookies matching the host or a registered
// parent domain are attached; Set-Cookie headers on the response are
// stored under the *requested* host. Transport and non-2xx failures are
// reported in the result, never as a Go error.
func (s *Session) Navigate(ctx context.Context, rawURL string) (*PageResult, error) {
	if !s.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return s.failResult(rawURL, fmt.Sprintf("invalid url: %q", rawURL)), nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return s.failResult(rawURL, fmt.Sprintf("rate limit wait: %v", err)), nil
	}

	s.countRequest("GET")

	req := s.client.R().SetContext(ctx)
	if header := s.jar.HeaderFor(target.Hostname()); header != "" {
		req.SetHeader("Cookie", header)
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		s.publish(events.BrowserError, map[string]any{"url": rawURL, "error": err.Error()})
		return s.failResult(rawURL, err.Error()), nil
	}

	result := s.buildResult(rawURL, target.Hostname(), resp)

	s.mu.Lock()
	s.currentURL = result.URL
	s.mu.Unlock()

	if result.Error == "" {
		s.publish(events.BrowserNavigated, map[string]any{"url": result.URL, "status": result.Status})
	} else {
		s.publish(events.BrowserError, map[string]any{"url": result.URL, "status": result.Status, "error": result.Error})
	}

	return result, nil
}

// SubmitForm sends form data: GET appends fields as query parameters,
// anything else posts a URL-encoded body. Cookies from the response are
// stored against the final, post-redirect host, and CurrentURL moves to
// the final URL.
func (s *Session) SubmitForm(ctx context.Context, rawURL string, form map[string]string, method string) (*PageResult, error) {
	if !s.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return s.failResult(rawURL, fmt.Sprintf("invalid url: %q", rawURL)), nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return s.failResult(rawURL, fmt.Sprintf("rate limit wait: %v", err)), nil
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "POST"
	}
	s.countRequest(method)

	req := s.client.R().SetContext(ctx)
	if header := s.jar.HeaderFor(target.Hostname()); header != "" {
		req.SetHeader("Cookie", header)
	}

	var resp *resty.Response
	if method == "GET" {
		resp, err = req.SetQueryParams(form).Get(rawURL)
	} else {
		resp, err = req.SetFormData(form).Post(rawURL)
	}
	if err != nil {
		s.publish(events.BrowserError, map[string]any{"url": rawURL, "error": err.Error()})
		return s.failResult(rawURL, err.Error()), nil
	}

	// Key cookies by where the submission actually landed.
	finalHost := target.Hostname()
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalHost = raw.Request.URL.Hostname()
	}

	result := s.buildResult(rawURL, finalHost, resp)

	s.mu.Lock()
	s.currentURL = result.URL
	s.mu.Unlock()

	if result.Error == "" {
		s.publish(events.BrowserNavigated, map[string]any{"url": result.URL, "status": result.Status, "method": method})
	} else {
		s.publish(events.BrowserError, map[string]any{"url": result.URL, "status": result.Status, "error": result.Error})
	}

	return result, nil
}

// Close marks the session inactive and persists the cookie jar to
// <dataDir>/cookies.json. Repeated calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.mu.Unlock()

	err := s.jar.Save(filepath.Join(s.dataDir, cookieFileName))
	if err != nil {
		s.logger.Error("failed to persist cookie jar", zap.Error(err))
	}

	s.publish(events.BrowserClosed, map[string]any{"cookies": len(s.jar.Domains())})
	s.logger.Debug("session closed")
	return err
}

// buildResult assembles the in-band result from a completed exchange
// and files the response cookies under cookieHost.
func (s *Session) buildResult(requestedURL, cookieHost string, resp *resty.Response) *PageResult {
	finalURL := requestedURL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	if raw := resp.RawResponse; raw != nil {
		s.jar.SetAll(cookieHost, raw.Cookies())
	}

	headers := make(map[string]string)
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	result := &PageResult{
		URL:     finalURL,
		Status:  resp.StatusCode(),
		Content: resp.String(),
		Headers: headers,
	}

	if isHTML(headers["Content-Type"]) {
		result.Title = extractTitle(result.Content)
	}

	if result.Status < 200 || result.Status >= 300 {
		result.Error = fmt.Sprintf("HTTP %d: %s", result.Status, resp.Status())
		if s.metrics != nil {
			s.metrics.BrowserErrors.Inc()
		}
	}

	return result
}

func (s *Session) failResult(rawURL, msg string) *PageResult {
	if s.metrics != nil {
		s.metrics.BrowserErrors.Inc()
	}
	return &PageResult{URL: rawURL, Error: msg}
}

func (s *Session) countRequest(method string) {
	if s.metrics != nil {
		s.metrics.BrowserRequests.WithLabelValues(method).Inc()
	}
}

func (s *Session) publish(t events.Type, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:      t,
		SandboxID: s.id,
		Data:      data,
	})
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// extractTitle pulls the <title> text from an HTML document; empty on
// parse failure or absence.
func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
