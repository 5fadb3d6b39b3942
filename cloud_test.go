package cloudfs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cloudfs "github.com/tonimelisma/cloudfs"

	_ "github.com/tonimelisma/cloudfs/internal/providers/local"
)

func openLocalClient(t *testing.T) *cloudfs.Client {
	t.Helper()

	dir := t.TempDir()

	c, err := cloudfs.Open(context.Background(), cloudfs.Config{
		Provider:   "local",
		Hints:      cloudfs.Hints{cloudfs.HintTemporaryDirectory: dir},
		Permission: cloudfs.ReadWrite,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c
}

func TestOpenUnknownProviderFails(t *testing.T) {
	_, err := cloudfs.Open(context.Background(), cloudfs.Config{Provider: "not-a-real-backend"})
	assert.Error(t, err)
}

func TestOpenAndRoundTripLocalBackend(t *testing.T) {
	c := openLocalClient(t)

	assert.Equal(t, "local", c.Name())
	assert.Equal(t, cloudfs.ReadWrite, c.Permission())

	root := c.RootDirectory()

	dir, err := c.CreateDirectory(root, "photos").Wait()
	require.NoError(t, err)
	assert.Equal(t, cloudfs.TypeDirectory, dir.Type)

	items, err := c.ListDirectory(root).Wait()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "photos", items[0].Filename)

	renamed, err := c.RenameItem(dir, "pictures").Wait()
	require.NoError(t, err)
	assert.Equal(t, "pictures", renamed.Filename)

	require.NoError(t, ignoreStruct(c.DeleteItem(renamed).Wait()))

	items, err = c.ListDirectory(root).Wait()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestNamesIncludesLocal(t *testing.T) {
	assert.Contains(t, cloudfs.Names(), "local")
}

func TestIsKindClassifiesNotFound(t *testing.T) {
	c := openLocalClient(t)

	_, err := c.GetItemData("does/not/exist").Wait()
	require.Error(t, err)
	assert.True(t, cloudfs.IsKind(err, cloudfs.KindNotFound))
}

// ignoreStruct discards the empty-struct result DeleteItem resolves with,
// keeping the call site above a one-liner.
func ignoreStruct(_ struct{}, err error) error { return err }
