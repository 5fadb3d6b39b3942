package main

import (
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/provider"
)

func TestCleanRemotePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"root slash", "/", ""},
		{"nested with trailing slash", "/foo/bar/", "foo/bar"},
		{"empty string", "", ""},
		{"no slashes", "foo", "foo"},
		{"double slashes", "//double//", "double"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanRemotePath(tt.path))
		})
	}
}

func TestSplitParentAndName(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantParent string
		wantName   string
	}{
		{"nested path", "foo/bar/baz", "foo/bar", "baz"},
		{"single segment", "baz", "", "baz"},
		{"empty string", "", "", ""},
		{"trailing slash top-level", "/top/", "", "top"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, name := splitParentAndName(tt.path)
			assert.Equal(t, tt.wantParent, parent)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestResolveItem_RootShortCircuitsToRootDirectory(t *testing.T) {
	backend := newFakeBackend("fake")

	item, err := resolveItem(backend, "/")
	require.NoError(t, err)
	assert.Equal(t, backend.RootDirectory(), item)
}

func TestResolveItem_NonRootCallsGetItem(t *testing.T) {
	backend := newFakeBackend("fake")
	backend.items["foo/bar"] = provider.Item{ID: "42", Filename: "bar"}

	item, err := resolveItem(backend, "/foo/bar/")
	require.NoError(t, err)
	assert.Equal(t, "42", item.ID)
}

func TestResolveItem_PropagatesNotFound(t *testing.T) {
	backend := newFakeBackend("fake")

	_, err := resolveItem(backend, "missing")
	require.Error(t, err)
}

// captureStdout redirects os.Stdout to a pipe and returns what fn wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = w

	t.Cleanup(func() { os.Stdout = old })

	fn()
	w.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(out)
}

func TestPrintItemsTable(t *testing.T) {
	items := []provider.Item{
		{Filename: "b.txt", Size: 100, Type: provider.TypeFile, Timestamp: time.Now()},
		{Filename: "a-folder", Type: provider.TypeDirectory},
		{Filename: "a.txt", Size: 50, Type: provider.TypeFile},
	}

	out := captureStdout(t, func() { printItemsTable(items) })

	assert.Contains(t, out, "a-folder/")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "b.txt")

	// Folders sort first, then alphabetical.
	folderIdx := indexOf(out, "a-folder/")
	aIdx := indexOf(out, "a.txt")
	assert.Less(t, folderIdx, aIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}

	return -1
}

func TestPrintItemsJSON(t *testing.T) {
	items := []provider.Item{{Filename: "x.txt", Size: 10, ID: "1", Type: provider.TypeFile}}

	out := captureStdout(t, func() {
		require.NoError(t, printItemsJSON(items))
	})

	var decoded []lsJSONItem
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "x.txt", decoded[0].Name)
	assert.Equal(t, "file", decoded[0].Type)
	assert.Empty(t, decoded[0].ModifiedAt)
}

func TestResolveItemThenCreateDirectory_CreatesUnderResolvedParent(t *testing.T) {
	backend := newFakeBackend("fake")
	backend.items["foo"] = provider.Item{ID: "foo-id", Filename: "foo", Type: provider.TypeDirectory}

	parent, err := resolveItem(backend, "foo")
	require.NoError(t, err)

	_, err = backend.CreateDirectory(parent, "bar").Wait()
	require.NoError(t, err)

	require.Len(t, backend.created, 1)
	assert.Equal(t, "foo-id", backend.created[0].parent.ID)
	assert.Equal(t, "bar", backend.created[0].name)
}

func TestResolveItemThenRenameItem_RenamesWithoutMove(t *testing.T) {
	backend := newFakeBackend("fake")
	backend.items["dir/old"] = provider.Item{ID: "1", Filename: "old"}

	item, err := resolveItem(backend, "dir/old")
	require.NoError(t, err)

	_, err = backend.RenameItem(item, "new").Wait()
	require.NoError(t, err)

	require.Len(t, backend.renamed, 1)
	assert.Equal(t, "new", backend.renamed[0].newName)
	assert.Empty(t, backend.moved)
}
