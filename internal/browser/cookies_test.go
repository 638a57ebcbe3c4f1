package browser

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJarExactDomain(t *testing.T) {
	jar := NewJar()
	jar.Set("example.com", "session", "abc123")

	assert.Equal(t, "session=abc123", jar.HeaderFor("example.com"))
	assert.Empty(t, jar.HeaderFor("other.org"))
}

func TestJarParentDomainMatch(t *testing.T) {
	jar := NewJar()
	jar.Set("example.com", "session", "abc123")

	// A cookie registered for the parent applies to subdomains.
	assert.Equal(t, "session=abc123", jar.HeaderFor("sub.example.com"))
	assert.Equal(t, "session=abc123", jar.HeaderFor("deep.sub.example.com"))
}

func TestJarNoWildcardIssuance(t *testing.T) {
	jar := NewJar()
	jar.Set("a.b.example.com", "session", "abc123")

	// A cookie stored under a subdomain is not sent to its parents.
	assert.Empty(t, jar.HeaderFor("example.com"))
	assert.Empty(t, jar.HeaderFor("b.example.com"))
	assert.Equal(t, "session=abc123", jar.HeaderFor("a.b.example.com"))
}

func TestJarTopLevelLabelNeverMatches(t *testing.T) {
	jar := NewJar()
	jar.Set("com", "evil", "1")

	assert.Empty(t, jar.HeaderFor("example.com"))
}

func TestJarExactHostWinsCollisions(t *testing.T) {
	jar := NewJar()
	jar.Set("example.com", "pref", "parent")
	jar.Set("sub.example.com", "pref", "child")

	assert.Equal(t, "pref=child", jar.HeaderFor("sub.example.com"))
	assert.Equal(t, "pref=parent", jar.HeaderFor("example.com"))
}

func TestJarHeaderDeterministic(t *testing.T) {
	jar := NewJar()
	jar.Set("example.com", "b", "2")
	jar.Set("example.com", "a", "1")
	jar.Set("example.com", "c", "3")

	for i := 0; i < 5; i++ {
		assert.Equal(t, "a=1; b=2; c=3", jar.HeaderFor("example.com"))
	}
}

func TestJarSetAllFromResponse(t *testing.T) {
	jar := NewJar()
	jar.SetAll("example.com", []*http.Cookie{
		{Name: "session", Value: "abc"},
		{Name: "theme", Value: "dark"},
		{Name: "", Value: "skipped"},
	})

	got := jar.Get("example.com")
	assert.Equal(t, map[string]string{"session": "abc", "theme": "dark"}, got)
}

func TestJarSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")

	jar := NewJar()
	jar.Set("example.com", "session", "abc123")
	jar.Set("other.org", "token", "xyz")
	require.NoError(t, jar.Save(path))

	loaded := NewJar()
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, jar.Snapshot(), loaded.Snapshot())
}

func TestJarLoadMissingFile(t *testing.T) {
	jar := NewJar()
	require.NoError(t, jar.Load(filepath.Join(t.TempDir(), "nope.json")))
	assert.Empty(t, jar.Domains())
}

func TestCandidateDomains(t *testing.T) {
	assert.Equal(t,
		[]string{"deep.sub.example.com", "sub.example.com", "example.com"},
		candidateDomains("deep.sub.example.com"))
	assert.Equal(t, []string{"example.com"}, candidateDomains("example.com"))
	assert.Equal(t, []string{"localhost"}, candidateDomains("localhost"))
}

func TestJarLoadNullFileStaysWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o600))

	jar := NewJar()
	require.NoError(t, jar.Load(path))

	// The jar must accept writes after loading a null document.
	jar.Set("example.com", "session", "abc123")
	assert.Equal(t, map[string]string{"session": "abc123"}, jar.Get("example.com"))
}
