package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// FileInfo describes one entry in the sandbox tree. Path is relative to
// the sandbox home.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
}

// resolve anchors a caller-supplied relative path under the sandbox
// home and rejects anything that would resolve outside it.
func (s *Sandbox) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscape, relPath)
	}

	full := filepath.Join(s.homePath, relPath)

	root := filepath.Clean(s.homePath)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, relPath)
	}
	return full, nil
}

func (s *Sandbox) browserDataDir() string {
	return filepath.Join(s.homePath, "browser_data")
}

// ReadFile returns the contents of a file inside the sandbox.
func (s *Sandbox) ReadFile(relPath string) (string, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return string(data), nil
}

// WriteFile writes (or appends to) a file inside the sandbox, creating
// parent directories as needed.
func (s *Sandbox) WriteFile(relPath, content string, appendMode bool) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directories for %s: %w", relPath, err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", relPath, err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

// DeleteFile removes a file or empty directory.
func (s *Sandbox) DeleteFile(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", relPath, err)
	}
	return nil
}

// FileExists reports whether a path exists inside the sandbox.
func (s *Sandbox) FileExists(relPath string) bool {
	full, err := s.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// GetFileInfo stats one entry.
func (s *Sandbox) GetFileInfo(relPath string) (*FileInfo, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}

	return &FileInfo{
		Name:    stat.Name(),
		Path:    relPath,
		Size:    stat.Size(),
		IsDir:   stat.IsDir(),
		Mode:    stat.Mode().String(),
		ModTime: stat.ModTime(),
	}, nil
}

// ListFiles returns the entries of a directory ("." for the home root),
// sorted by name.
func (s *Sandbox) ListFiles(relPath string) ([]FileInfo, error) {
	if relPath == "" {
		relPath = "."
	}
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", relPath, err)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		stat, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, FileInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(relPath, entry.Name()),
			Size:    stat.Size(),
			IsDir:   entry.IsDir(),
			Mode:    stat.Mode().String(),
			ModTime: stat.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// SearchFiles walks the sandbox tree and returns relative paths of
// files matching a doublestar glob (e.g. "documents/**/*.txt"), sorted.
func (s *Sandbox) SearchFiles(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %q", pattern)
	}

	// fastwalk visits entries from multiple goroutines.
	var mu sync.Mutex
	var matches []string
	conf := fastwalk.Config{Follow: false}

	err := fastwalk.Walk(&conf, s.homePath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entries are skipped, not fatal.
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.homePath, p)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			mu.Lock()
			matches = append(matches, rel)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", pattern, err)
	}

	sort.Strings(matches)
	return matches, nil
}
