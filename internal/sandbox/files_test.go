package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	m := newTestManager(t)
	sb, err := m.Create("files-test")
	require.NoError(t, err)
	return sb
}

func TestFileRoundTrip(t *testing.T) {
	sb := newTestSandbox(t)

	require.NoError(t, sb.WriteFile("documents/hello.txt", "hello world", false))
	assert.True(t, sb.FileExists("documents/hello.txt"))

	content, err := sb.ReadFile("documents/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)

	require.NoError(t, sb.DeleteFile("documents/hello.txt"))
	assert.False(t, sb.FileExists("documents/hello.txt"))

	_, err = sb.ReadFile("documents/hello.txt")
	require.Error(t, err)
}

func TestWriteFileAppend(t *testing.T) {
	sb := newTestSandbox(t)

	require.NoError(t, sb.WriteFile("log.txt", "one\n", false))
	require.NoError(t, sb.WriteFile("log.txt", "two\n", true))

	content, err := sb.ReadFile("log.txt")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", content)

	// Non-append overwrites.
	require.NoError(t, sb.WriteFile("log.txt", "fresh", false))
	content, err = sb.ReadFile("log.txt")
	require.NoError(t, err)
	assert.Equal(t, "fresh", content)
}

func TestWriteFileCreatesParents(t *testing.T) {
	sb := newTestSandbox(t)

	require.NoError(t, sb.WriteFile("projects/deep/nested/file.txt", "x", false))
	assert.True(t, sb.FileExists("projects/deep/nested/file.txt"))
}

func TestPathEscapeRejected(t *testing.T) {
	sb := newTestSandbox(t)

	cases := []string{
		"../outside.txt",
		"documents/../../outside.txt",
		"/etc/passwd",
	}
	for _, p := range cases {
		err := sb.WriteFile(p, "x", false)
		assert.True(t, errors.Is(err, ErrPathEscape), "write %q", p)

		_, err = sb.ReadFile(p)
		assert.True(t, errors.Is(err, ErrPathEscape), "read %q", p)

		err = sb.DeleteFile(p)
		assert.True(t, errors.Is(err, ErrPathEscape), "delete %q", p)

		assert.False(t, sb.FileExists(p))
	}
}

func TestGetFileInfo(t *testing.T) {
	sb := newTestSandbox(t)

	require.NoError(t, sb.WriteFile("documents/info.txt", "12345", false))

	info, err := sb.GetFileInfo("documents/info.txt")
	require.NoError(t, err)
	assert.Equal(t, "info.txt", info.Name)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.IsDir)

	dirInfo, err := sb.GetFileInfo("documents")
	require.NoError(t, err)
	assert.True(t, dirInfo.IsDir)

	_, err = sb.GetFileInfo("documents/missing.txt")
	require.Error(t, err)
}

func TestListFiles(t *testing.T) {
	sb := newTestSandbox(t)

	require.NoError(t, sb.WriteFile("documents/b.txt", "b", false))
	require.NoError(t, sb.WriteFile("documents/a.txt", "a", false))

	infos, err := sb.ListFiles("documents")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a.txt", infos[0].Name)
	assert.Equal(t, "b.txt", infos[1].Name)

	// Empty path lists the home root, which carries the skeleton.
	root, err := sb.ListFiles("")
	require.NoError(t, err)
	names := make([]string, 0, len(root))
	for _, fi := range root {
		names = append(names, fi.Name)
	}
	assert.Contains(t, names, "documents")
	assert.Contains(t, names, "welcome.txt")
}

func TestSearchFiles(t *testing.T) {
	sb := newTestSandbox(t)

	require.NoError(t, sb.WriteFile("documents/a.txt", "a", false))
	require.NoError(t, sb.WriteFile("documents/sub/b.txt", "b", false))
	require.NoError(t, sb.WriteFile("projects/c.go", "c", false))

	matches, err := sb.SearchFiles("documents/**/*.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"documents/a.txt", "documents/sub/b.txt"}, matches)

	matches, err = sb.SearchFiles("**/*.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/c.go"}, matches)

	matches, err = sb.SearchFiles("**/*.nomatch")
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = sb.SearchFiles("[invalid")
	require.Error(t, err)
}
