package main

import (
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// fakeBackend is a minimal provider.Provider test double: every operation
// resolves immediately (loop-less promises settle synchronously) to a
// canned value or error, selected per call via the items, itemErr and
// children maps so a single
// instance can stand in for an entire small directory tree.
type fakeBackend struct {
	name string

	items       map[string]provider.Item  // path -> resolved item, for GetItem
	itemErr     map[string]error
	children    map[string][]provider.Item // item ID -> children, for ListDirectory
	generalData provider.GeneralData

	created []struct {
		parent provider.Item
		name   string
	}
	deleted []provider.Item
	moved   []struct {
		item      provider.Item
		newParent provider.Item
	}
	renamed []struct {
		item    provider.Item
		newName string
	}
}

func newFakeBackend(name string) *fakeBackend {
	return &fakeBackend{
		name:     name,
		items:    make(map[string]provider.Item),
		itemErr:  make(map[string]error),
		children: make(map[string][]provider.Item),
	}
}

func resolved[T any](v T) *cloudcore.Promise[T] {
	p, fulfill, _ := cloudcore.NewPromise[T](nil)
	fulfill(v)

	return p
}

func rejected[T any](err error) *cloudcore.Promise[T] {
	p, _, reject := cloudcore.NewPromise[T](nil)
	reject(err)

	return p
}

func (f *fakeBackend) Name() string                    { return f.name }
func (f *fakeBackend) Endpoint() string                { return "" }
func (f *fakeBackend) RootDirectory() provider.Item    { return provider.Item{ID: "root", Type: provider.TypeDirectory} }
func (f *fakeBackend) AuthorizeLibraryURL() string     { return "https://example.com/authorize" }
func (f *fakeBackend) Token() provider.Token           { return provider.Token{AccessToken: "fake"} }
func (f *fakeBackend) Hints() provider.Hints           { return nil }
func (f *fakeBackend) Permission() provider.Permission { return provider.ReadWrite }

func (f *fakeBackend) GetItem(path string) *cloudcore.Promise[provider.Item] {
	if err, ok := f.itemErr[path]; ok {
		return rejected[provider.Item](err)
	}

	item, ok := f.items[path]
	if !ok {
		return rejected[provider.Item](providerNotFound(path))
	}

	return resolved(item)
}

func (f *fakeBackend) GetItemData(id string) *cloudcore.Promise[provider.Item] {
	return resolved(provider.Item{ID: id})
}

func (f *fakeBackend) ListDirectoryPage(item provider.Item, _ string) *cloudcore.Promise[provider.ListPage] {
	return resolved(provider.ListPage{Items: f.children[item.ID]})
}

func (f *fakeBackend) ListDirectory(item provider.Item) *cloudcore.Promise[[]provider.Item] {
	return resolved(f.children[item.ID])
}

func (f *fakeBackend) GetFileURL(provider.Item) *cloudcore.Promise[string] {
	return resolved("")
}

func (f *fakeBackend) DownloadFile(_ provider.Item, _ provider.Range, cb provider.DownloadCallback) *cloudcore.Promise[struct{}] {
	cb.ReceivedData([]byte("hello"))
	cb.Done(nil)

	return resolved(struct{}{})
}

func (f *fakeBackend) UploadFile(parent provider.Item, filename string, cb provider.UploadCallback) *cloudcore.Promise[provider.Item] {
	buf := make([]byte, cb.Size())
	_, _ = cb.PutData(buf, len(buf), 0)

	return resolved(provider.Item{ID: "new", Filename: filename, Size: cb.Size()})
}

func (f *fakeBackend) CreateDirectory(parent provider.Item, name string) *cloudcore.Promise[provider.Item] {
	f.created = append(f.created, struct {
		parent provider.Item
		name   string
	}{parent, name})

	return resolved(provider.Item{ID: "new-dir", Filename: name, Type: provider.TypeDirectory})
}

func (f *fakeBackend) DeleteItem(item provider.Item) *cloudcore.Promise[struct{}] {
	f.deleted = append(f.deleted, item)

	return resolved(struct{}{})
}

func (f *fakeBackend) MoveItem(item provider.Item, newParent provider.Item) *cloudcore.Promise[provider.Item] {
	f.moved = append(f.moved, struct {
		item      provider.Item
		newParent provider.Item
	}{item, newParent})

	return resolved(provider.Item{ID: item.ID, Filename: item.Filename})
}

func (f *fakeBackend) RenameItem(item provider.Item, newName string) *cloudcore.Promise[provider.Item] {
	f.renamed = append(f.renamed, struct {
		item    provider.Item
		newName string
	}{item, newName})

	return resolved(provider.Item{ID: item.ID, Filename: newName})
}

func (f *fakeBackend) GetThumbnail(provider.Item) *cloudcore.Promise[[]byte] {
	return resolved[[]byte](nil)
}

func (f *fakeBackend) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	return resolved(f.generalData)
}

func (f *fakeBackend) ExchangeCode(code string) *cloudcore.Promise[provider.Token] {
	return resolved(provider.Token{AccessToken: "exchanged-" + code})
}

type notFoundErr struct{ path string }

func (e notFoundErr) Error() string { return "not found: " + e.path }

func providerNotFound(path string) error { return notFoundErr{path} }

var _ provider.Provider = (*fakeBackend)(nil)
