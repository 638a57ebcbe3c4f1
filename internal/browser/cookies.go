package browser

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// Jar is the per-session cookie store: domain -> cookie name -> value.
//
// Matching is suffix-based, not public-suffix-aware: a request to
// sub.example.com picks up cookies registered under example.com, but a
// cookie is only ever *stored* under the domain it was received from.
// The top-level label alone ("com") never matches. This mirrors a
// deliberately simple model; see DESIGN.md for the known imprecision
// around shared two-label suffixes.
type Jar struct {
	mu      sync.RWMutex
	cookies map[string]map[string]string
}

// NewJar creates an empty jar.
func NewJar() *Jar {
	return &Jar{cookies: make(map[string]map[string]string)}
}

// Set stores one cookie under a domain.
func (j *Jar) Set(domain, name, value string) {
	domain = strings.ToLower(domain)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cookies[domain] == nil {
		j.cookies[domain] = make(map[string]string)
	}
	j.cookies[domain][name] = value
}

// SetAll stores every cookie from a response under the given domain.
func (j *Jar) SetAll(domain string, cookies []*http.Cookie) {
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		j.Set(domain, c.Name, c.Value)
	}
}

// Get returns a copy of the cookies stored for exactly this domain.
func (j *Jar) Get(domain string) map[string]string {
	domain = strings.ToLower(domain)

	j.mu.RLock()
	defer j.mu.RUnlock()

	stored, ok := j.cookies[domain]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out
}

// HeaderFor builds the Cookie header value for a request host: the
// union of cookies under the exact host and under every registered
// parent suffix. Deterministic order (sorted names) so requests are
// reproducible.
func (j *Jar) HeaderFor(host string) string {
	host = strings.ToLower(host)

	j.mu.RLock()
	defer j.mu.RUnlock()

	merged := make(map[string]string)
	for _, domain := range candidateDomains(host) {
		for name, value := range j.cookies[domain] {
			if _, exists := merged[name]; !exists {
				merged[name] = value
			}
		}
	}

	if len(merged) == 0 {
		return ""
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%s", name, merged[name]))
	}
	return strings.Join(pairs, "; ")
}

// candidateDomains lists the host and each dot-suffix with at least two
// labels, most specific first. The exact host wins name collisions
// because it is visited first.
func candidateDomains(host string) []string {
	labels := strings.Split(host, ".")
	domains := []string{host}
	for i := 1; i <= len(labels)-2; i++ {
		domains = append(domains, strings.Join(labels[i:], "."))
	}
	return domains
}

// Domains returns every domain with stored cookies, sorted.
func (j *Jar) Domains() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	domains := make([]string, 0, len(j.cookies))
	for d := range j.cookies {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// Snapshot returns a deep copy of the jar contents.
func (j *Jar) Snapshot() map[string]map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make(map[string]map[string]string, len(j.cookies))
	for domain, cookies := range j.cookies {
		inner := make(map[string]string, len(cookies))
		for k, v := range cookies {
			inner[k] = v
		}
		out[domain] = inner
	}
	return out
}

// Save serializes the jar to path as JSON.
func (j *Jar) Save(path string) error {
	data, err := sonic.MarshalIndent(j.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return nil
}

// Load replaces the jar contents from path. A missing file leaves the
// jar empty without error; a corrupt file is an error the caller may
// choose to ignore.
func (j *Jar) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cookie file: %w", err)
	}

	cookies := make(map[string]map[string]string)
	if err := sonic.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("failed to parse cookie file: %w", err)
	}
	// A file holding JSON null decodes to a nil map without error; the
	// jar must stay writable.
	if cookies == nil {
		cookies = make(map[string]map[string]string)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = cookies
	return nil
}
