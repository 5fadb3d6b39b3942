package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

func TestRegisterAndCreate(t *testing.T) {
	name := "test-backend-registry"
	provider.Register(name, func(data provider.InitData) (provider.Provider, error) {
		return stubProvider{token: data.Token}, nil
	})

	p, err := provider.Create(name, provider.InitData{Token: provider.Token{AccessToken: "abc"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", p.Token().AccessToken)
}

func TestCreateUnknownName(t *testing.T) {
	_, err := provider.Create("test-backend-does-not-exist", provider.InitData{})
	require.Error(t, err)
}

func TestRegisterTwicePanics(t *testing.T) {
	name := "test-backend-duplicate"
	provider.Register(name, func(provider.InitData) (provider.Provider, error) { return nil, nil })

	assert.Panics(t, func() {
		provider.Register(name, func(provider.InitData) (provider.Provider, error) { return nil, nil })
	})
}

func TestNamesIsSorted(t *testing.T) {
	names := provider.Names()
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}

// stubProvider implements provider.Provider minimally, rejecting every
// operation with clouderr.Unimplemented, to exercise the registry without
// pulling in a real backend.
type stubProvider struct {
	token provider.Token
}

func (s stubProvider) Name() string                { return "stub" }
func (s stubProvider) Endpoint() string             { return "" }
func (s stubProvider) RootDirectory() provider.Item { return provider.Item{ID: "root"} }
func (s stubProvider) AuthorizeLibraryURL() string  { return "" }
func (s stubProvider) Token() provider.Token        { return s.token }
func (s stubProvider) Hints() provider.Hints        { return nil }
func (s stubProvider) Permission() provider.Permission { return provider.ReadWrite }

func unimplemented[T any](op string) *cloudcore.Promise[T] {
	p, _, reject := cloudcore.NewPromise[T](nil)
	reject(clouderr.Unimplemented(op))

	return p
}

func (s stubProvider) ListDirectoryPage(provider.Item, string) *cloudcore.Promise[provider.ListPage] {
	return unimplemented[provider.ListPage]("list_directory_page")
}

func (s stubProvider) ListDirectory(provider.Item) *cloudcore.Promise[[]provider.Item] {
	return unimplemented[[]provider.Item]("list_directory")
}

func (s stubProvider) GetItemData(string) *cloudcore.Promise[provider.Item] {
	return unimplemented[provider.Item]("get_item_data")
}

func (s stubProvider) GetItem(string) *cloudcore.Promise[provider.Item] {
	return unimplemented[provider.Item]("get_item")
}

func (s stubProvider) GetFileURL(provider.Item) *cloudcore.Promise[string] {
	return unimplemented[string]("get_file_url")
}

func (s stubProvider) DownloadFile(provider.Item, provider.Range, provider.DownloadCallback) *cloudcore.Promise[struct{}] {
	return unimplemented[struct{}]("download_file")
}

func (s stubProvider) UploadFile(provider.Item, string, provider.UploadCallback) *cloudcore.Promise[provider.Item] {
	return unimplemented[provider.Item]("upload_file")
}

func (s stubProvider) CreateDirectory(provider.Item, string) *cloudcore.Promise[provider.Item] {
	return unimplemented[provider.Item]("create_directory")
}

func (s stubProvider) DeleteItem(provider.Item) *cloudcore.Promise[struct{}] {
	return unimplemented[struct{}]("delete_item")
}

func (s stubProvider) MoveItem(provider.Item, provider.Item) *cloudcore.Promise[provider.Item] {
	return unimplemented[provider.Item]("move_item")
}

func (s stubProvider) RenameItem(provider.Item, string) *cloudcore.Promise[provider.Item] {
	return unimplemented[provider.Item]("rename_item")
}

func (s stubProvider) GetThumbnail(provider.Item) *cloudcore.Promise[[]byte] {
	return unimplemented[[]byte]("get_thumbnail")
}

func (s stubProvider) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	return unimplemented[provider.GeneralData]("general_data")
}

func (s stubProvider) ExchangeCode(string) *cloudcore.Promise[provider.Token] {
	return unimplemented[provider.Token]("exchange_code")
}
