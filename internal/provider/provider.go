package provider

import (
	"log/slog"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
)

// AuthCallback is the side channel through which a provider reports
// authorization state changes that do not fit neatly into a single
// Promise rejection: auth failures are reported both
// through the promise and through the AuthCallback.Done(error) side
// channel.
type AuthCallback interface {
	// AuthorizeLibraryURLChanged is invoked when a provider transitions to
	// AuthorizationRequired and a fresh consent URL must be presented.
	AuthorizeLibraryURLChanged(url string)
	// Done is invoked once with a non-nil error when the reauthorization
	// protocol is exhausted, so the owning factory can remove the dead
	// account; invoked with nil on a recovering refresh after a prior
	// AuthorizationRequired episode (rare, but symmetric).
	Done(err error)
}

// NopAuthCallback discards every notification. Useful for providers
// constructed in tests or in contexts that poll Token()/errors directly.
type NopAuthCallback struct{}

func (NopAuthCallback) AuthorizeLibraryURLChanged(string) {}
func (NopAuthCallback) Done(error)                        {}

// UploadCallback supplies the bytes an upload_file operation sends.
// PutData must be safe to call more than once with a rewound offset:
// a reauth retry may rewind mid-upload.
type UploadCallback interface {
	// Size returns the total number of bytes to be uploaded, known up front.
	Size() int64
	// PutData fills buf (up to maxlen bytes) starting at offset and returns
	// the number of bytes actually written into buf.
	PutData(buf []byte, maxlen int, offset int64) (int, error)
}

// DownloadCallback receives streamed bytes from download_file.
// None of its methods is routed through the event loop: ReceivedData and
// Progress are called while the download runs, and Done is called exactly
// once, from the goroutine running the download, before the returned
// promise settles.
type DownloadCallback interface {
	ReceivedData(chunk []byte)
	Progress(total, now int64)
	Done(err error)
}

// InitData bundles everything a provider factory needs.
type InitData struct {
	Token      Token
	Hints      Hints
	Permission Permission
	Callback   AuthCallback
	Pool       *cloudcore.ThreadPool
	Loop       *cloudcore.EventLoop
	Logger     *slog.Logger
}

// Provider is the polymorphic backend contract every remote storage service
// satisfies. Every operation returns a Promise that resolves on
// the event loop.
type Provider interface {
	// Name is the exact provider-name string, e.g. "onedrive".
	Name() string
	// Endpoint is the provider's base URL, when meaningful (WebDAV, S3,
	// hubiC post-bootstrap); empty for providers with a fixed well-known
	// endpoint.
	Endpoint() string
	// RootDirectory returns the provider's reserved root item. Its ID is
	// stable within a process.
	RootDirectory() Item
	// AuthorizeLibraryURL returns the URL a user opens to grant consent.
	AuthorizeLibraryURL() string
	// Token returns the provider's current credential pair.
	Token() Token
	// Hints returns the hints the provider was constructed with (and may
	// have amended, e.g. after an hubiC Swift-credential bootstrap).
	Hints() Hints
	// Permission reports whether mutating operations are allowed.
	Permission() Permission

	ListDirectoryPage(item Item, token string) *cloudcore.Promise[ListPage]
	ListDirectory(item Item) *cloudcore.Promise[[]Item]
	GetItemData(id string) *cloudcore.Promise[Item]
	GetItem(path string) *cloudcore.Promise[Item]
	GetFileURL(item Item) *cloudcore.Promise[string]
	DownloadFile(item Item, rng Range, cb DownloadCallback) *cloudcore.Promise[struct{}]
	UploadFile(parent Item, filename string, cb UploadCallback) *cloudcore.Promise[Item]
	CreateDirectory(parent Item, name string) *cloudcore.Promise[Item]
	DeleteItem(item Item) *cloudcore.Promise[struct{}]
	MoveItem(item Item, newParent Item) *cloudcore.Promise[Item]
	RenameItem(item Item, newName string) *cloudcore.Promise[Item]
	GetThumbnail(item Item) *cloudcore.Promise[[]byte]
	GeneralData() *cloudcore.Promise[GeneralData]
	ExchangeCode(code string) *cloudcore.Promise[Token]
}
