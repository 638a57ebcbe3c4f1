package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spindle-dev/spindle/internal/logging"
)

func newTestStore(t *testing.T, passphrase string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := New(path, passphrase, logging.NewNop())
	require.NoError(t, err)
	return store, path
}

func TestStoreGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, "test-passphrase")

	require.NoError(t, store.Store("example.com", "alice", "secret"))

	cred, ok := store.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "secret", cred.Password)
}

func TestDomainNormalization(t *testing.T) {
	store, _ := newTestStore(t, "test-passphrase")

	require.NoError(t, store.Store("https://Example.com/login?next=/home", "alice", "secret"))

	cred, ok := store.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, "alice", cred.Username)

	// Port and bare-host forms resolve to the same entry.
	_, ok = store.Get("example.com:8443")
	assert.True(t, ok)
	_, ok = store.Get("http://example.com/other")
	assert.True(t, ok)
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"https://example.com/login", "example.com"},
		{"http://API.Example.com:8080/x?y=1", "api.example.com"},
		{"sub.example.co.uk", "sub.example.co.uk"},
	}
	for _, tt := range tests {
		got, err := NormalizeDomain(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := NormalizeDomain("")
	assert.Error(t, err)
	_, err = NormalizeDomain("   ")
	assert.Error(t, err)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := New(path, "stable-key", logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Store("example.com", "alice", "secret"))
	require.NoError(t, store.Store("other.org", "bob", "hunter2"))

	reloaded, err := New(path, "stable-key", logging.NewNop())
	require.NoError(t, err)

	cred, ok := reloaded.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, Credential{Username: "alice", Password: "secret"}, cred)
	assert.Equal(t, []string{"example.com", "other.org"}, reloaded.List())
}

func TestWrongKeyYieldsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := New(path, "right-key", logging.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Store("example.com", "alice", "secret"))

	reloaded, err := New(path, "wrong-key", logging.NewNop())
	require.NoError(t, err)
	_, ok := reloaded.Get("example.com")
	assert.False(t, ok)
	assert.Empty(t, reloaded.List())
}

func TestCorruptFileYieldsEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	require.NoError(t, os.WriteFile(path, []byte("not-a-valid-blob"), 0o600))

	store, err := New(path, "key", logging.NewNop())
	require.NoError(t, err)
	assert.Empty(t, store.List())
}

func TestMissingFileIsEmptyStore(t *testing.T) {
	store, _ := newTestStore(t, "key")
	assert.Empty(t, store.List())
	_, ok := store.Get("example.com")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t, "key")

	require.NoError(t, store.Store("example.com", "alice", "secret"))
	assert.True(t, store.Delete("example.com"))
	assert.False(t, store.Delete("example.com"))

	_, ok := store.Get("example.com")
	assert.False(t, ok)
}

func TestFileFormat(t *testing.T) {
	store, path := newTestStore(t, "key")
	require.NoError(t, store.Store("example.com", "alice", "secret"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	parts := strings.SplitN(string(raw), ":", 2)
	require.Len(t, parts, 2, "file must be <hex-iv>:<hex-ciphertext>")
	assert.Len(t, parts[0], 32, "IV is 16 bytes hex-encoded")
	assert.NotContains(t, string(raw), "alice", "plaintext must not leak")
	assert.NotContains(t, string(raw), "secret", "plaintext must not leak")
}

func TestFreshIVPerSave(t *testing.T) {
	store, path := newTestStore(t, "key")

	require.NoError(t, store.Store("example.com", "alice", "secret"))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.Store("example.com", "alice", "secret"))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	ivA := strings.SplitN(string(first), ":", 2)[0]
	ivB := strings.SplitN(string(second), ":", 2)[0]
	assert.NotEqual(t, ivA, ivB, "each save must use a fresh IV")
}

func TestPadUnpad(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 31, 32} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		padded := pad(data, 16)
		require.Zero(t, len(padded)%16)
		out, err := unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}

	_, err := unpad([]byte{}, 16)
	assert.Error(t, err)
	_, err = unpad(make([]byte, 16), 16) // trailing zero byte
	assert.Error(t, err)
}
