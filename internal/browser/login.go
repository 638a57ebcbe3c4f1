package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/spindle-dev/spindle/internal/credentials"
	"github.com/spindle-dev/spindle/internal/events"
)

// LoginResult reports the outcome of a form-based login attempt.
// Success is heuristic: the submission completed with a 2xx or 3xx
// final status. Sites that answer failed logins with 200 pages will
// read as success; callers needing certainty must inspect Content.
type LoginResult struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	URL     string `json:"url"`
	Error   string `json:"error,omitempty"`
}

// Login fetches the login page and submits the stored credential for
// the URL's domain into the named form fields. It fails fast with
// ErrNoCredentials when the store has nothing for the domain.
func (s *Session) Login(ctx context.Context, rawURL, usernameField, passwordField string) (*LoginResult, error) {
	if !s.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}
	if s.creds == nil {
		return nil, fmt.Errorf("no credential store attached to session %s", s.id)
	}

	domain, err := credentials.NormalizeDomain(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid login url: %w", err)
	}

	cred, ok := s.creds.Get(domain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, domain)
	}

	// Load the login page first: it may set session cookies (CSRF and
	// friends travel in the jar automatically) and names the form action.
	action := rawURL
	page, err := s.Navigate(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if page.Error == "" {
		if discovered := discoverFormAction(page.Content, page.URL, passwordField); discovered != "" {
			action = discovered
		}
	} else {
		s.logger.Debug("login page fetch failed, submitting to login url directly",
			zap.String("url", rawURL), zap.String("error", page.Error))
	}

	form := map[string]string{
		usernameField: cred.Username,
		passwordField: cred.Password,
	}

	submitted, err := s.SubmitForm(ctx, action, form, "POST")
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		Status: submitted.Status,
		URL:    submitted.URL,
		Error:  submitted.Error,
	}
	result.Success = submitted.Status >= 200 && submitted.Status < 400 && isTransportOK(submitted)

	s.publish(events.BrowserLogin, map[string]any{
		"url":     rawURL,
		"domain":  domain,
		"success": result.Success,
		"status":  result.Status,
	})

	if result.Success {
		s.logger.Info("login submitted", zap.String("domain", domain), zap.Int("status", result.Status))
	} else {
		s.logger.Warn("login failed", zap.String("domain", domain), zap.Int("status", result.Status), zap.String("error", result.Error))
	}

	return result, nil
}

// isTransportOK distinguishes a reachable-but-unhappy status from a
// transport failure, which has status 0.
func isTransportOK(r *PageResult) bool {
	return r.Status != 0
}

// discoverFormAction finds the form containing an input with the given
// password field name and resolves its action against the page URL.
// Empty when no such form exists or the markup is unparseable.
func discoverFormAction(html, pageURL, passwordField string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	var action string
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		selector := fmt.Sprintf("input[name=%q]", passwordField)
		if form.Find(selector).Length() == 0 {
			return true
		}
		raw, _ := form.Attr("action")
		if raw == "" {
			action = pageURL
			return false
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return true
		}
		action = base.ResolveReference(parsed).String()
		return false
	})

	return action
}
