// Package credentials implements the encrypted-at-rest store mapping
// website domains to login credentials.
//
// The whole map is encrypted as one blob: AES-256-CBC with a fresh
// random IV per save, written as "<hex-iv>:<hex-ciphertext>". The key is
// derived once at construction from a passphrase via scrypt and shared
// for the store's lifetime.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/crypto/scrypt"

	"github.com/spindle-dev/spindle/internal/logging"
)

// Credential is one stored login.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Store is the encrypted credential map. All mutating operations
// re-encrypt and rewrite the whole file; saves are serialized by the
// store's mutex so concurrent writers within one process cannot
// interleave partial files.
type Store struct {
	path   string
	key    []byte
	logger *logging.Logger

	mu    sync.RWMutex
	creds map[string]Credential
}

// scrypt parameters. The salt is fixed: the passphrase is the only
// secret input and the derived key never leaves the process.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var keySalt = []byte("spindle-credential-store-v1")

// New creates a store backed by the file at path, deriving the AES key
// from passphrase. A missing or empty file is an empty store. Any other
// load failure (unreadable, corrupt, wrong key) is logged and also
// treated as empty; the file is only overwritten on the next Store call.
func New(path, passphrase string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	key, err := scrypt.Key([]byte(passphrase), keySalt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive credential key: %w", err)
	}

	s := &Store{
		path:   path,
		key:    key,
		logger: logger.Named("credentials"),
		creds:  make(map[string]Credential),
	}

	s.load()
	return s, nil
}

// Store normalizes the domain, upserts the credential, and rewrites the
// encrypted file.
func (s *Store) Store(domain, username, password string) error {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[d] = Credential{Username: username, Password: password}
	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("failed to persist credentials for %s: %w", d, err)
	}

	s.logger.Info("credential stored", zap.String("domain", d))
	return nil
}

// Get returns the credential for a domain, if present.
func (s *Store) Get(domain string) (Credential, bool) {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return Credential{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[d]
	return cred, ok
}

// Delete removes a domain's credential. Returns false when absent.
func (s *Store) Delete(domain string) bool {
	d, err := NormalizeDomain(domain)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[d]; !ok {
		return false
	}
	delete(s.creds, d)

	if err := s.saveLocked(); err != nil {
		s.logger.Error("failed to persist credential deletion", zap.String("domain", d), zap.Error(err))
	}
	return true
}

// List returns all stored domains, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	domains := make([]string, 0, len(s.creds))
	for d := range s.creds {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// NormalizeDomain reduces a URL or bare host to its lowercase hostname:
// scheme, path, query, and port are stripped; https is implied when no
// scheme is given.
func NormalizeDomain(domain string) (string, error) {
	raw := strings.TrimSpace(domain)
	if raw == "" {
		return "", fmt.Errorf("domain cannot be empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("invalid domain: %q", domain)
	}

	return strings.ToLower(u.Hostname()), nil
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("credential file unreadable, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}

	plaintext, err := s.decrypt(strings.TrimSpace(string(data)))
	if err != nil {
		s.logger.Warn("credential file undecryptable, starting empty", zap.String("path", s.path), zap.Error(err))
		return
	}

	creds := make(map[string]Credential)
	if err := sonic.Unmarshal(plaintext, &creds); err != nil {
		s.logger.Warn("credential file unparseable, starting empty", zap.String("path", s.path), zap.Error(err))
		return
	}

	s.creds = creds
	s.logger.Info("credentials loaded", zap.Int("count", len(creds)))
}

func (s *Store) saveLocked() error {
	plaintext, err := sonic.Marshal(s.creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	blob, err := s.encrypt(plaintext)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(blob), 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

func (s *Store) decrypt(blob string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(blob, ":")
	if !ok {
		return nil, fmt.Errorf("malformed credential blob: missing IV separator")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("malformed IV: %w", err)
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("malformed ciphertext: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a block multiple", len(ciphertext))
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpad(plaintext, aes.BlockSize)
}

// pad applies PKCS#7 padding.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// unpad strips PKCS#7 padding.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
