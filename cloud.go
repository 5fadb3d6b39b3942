// Package cloudfs is a uniform, filesystem-flavored client library over many
// cloud storage backends: Google Drive, OneDrive, Dropbox, Box, S3, WebDAV,
// hubiC, 4shared, Google Photos, pCloud, Yandex Disk, Mega, and the local
// filesystem. Every backend is reached through the same Item/Range/ListPage
// vocabulary defined in internal/provider, so callers write one integration
// against Client instead of one per vendor API.
//
// Every operation returns a *Promise that resolves on a background event
// loop started by Open; call Wait to block the calling goroutine for the
// result, or use the promise combinators in the cloudcore package (not
// re-exported here; import internal/cloudcore directly if you need them —
// this package only re-exports the shapes ordinary callers touch).
package cloudfs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// Re-exported data model. Callers build and inspect these without ever
// importing internal/provider directly.
type (
	Item        = provider.Item
	ItemType    = provider.ItemType
	Token       = provider.Token
	Hints       = provider.Hints
	Range       = provider.Range
	ListPage    = provider.ListPage
	GeneralData = provider.GeneralData
	Permission  = provider.Permission
	Promise[T any] = cloudcore.Promise[T]

	UploadCallback   = provider.UploadCallback
	DownloadCallback = provider.DownloadCallback
)

// Item type constants.
const (
	TypeUnknown   = provider.TypeUnknown
	TypeFile      = provider.TypeFile
	TypeImage     = provider.TypeImage
	TypeAudio     = provider.TypeAudio
	TypeVideo     = provider.TypeVideo
	TypeDirectory = provider.TypeDirectory
)

// Permission constants.
const (
	ReadWrite = provider.ReadWrite
	ReadOnly  = provider.ReadOnly
)

// SizeUnknown and Full mirror the provider package's sentinels so callers
// never need to reach past this package for them.
const (
	SizeUnknown = provider.SizeUnknown
	Full        = provider.Full
)

// Recognized Hints keys, re-exported for construction-time hint maps.
const (
	HintClientID           = provider.HintClientID
	HintClientSecret       = provider.HintClientSecret
	HintRedirectURI        = provider.HintRedirectURI
	HintState              = provider.HintState
	HintAccessToken        = provider.HintAccessToken
	HintTemporaryDirectory = provider.HintTemporaryDirectory
	HintFileURL            = provider.HintFileURL
	HintLoginPage          = provider.HintLoginPage
	HintSuccessPage        = provider.HintSuccessPage
	HintErrorPage          = provider.HintErrorPage
	HintEndpoint           = provider.HintEndpoint
	HintRegion             = provider.HintRegion
	HintBucket             = provider.HintBucket
)

// Error re-exports the clouderr model so callers can classify failures
// (clouderr.Is(err, cloudfs.KindNotFound)) without an internal/ import.
type (
	ErrorKind = clouderr.Kind
	Error     = clouderr.Error
)

const (
	KindTransport          = clouderr.KindTransport
	KindHTTP               = clouderr.KindHTTP
	KindAborted            = clouderr.KindAborted
	KindNotFound           = clouderr.KindNotFound
	KindAuth               = clouderr.KindAuth
	KindParse              = clouderr.KindParse
	KindUnimplemented      = clouderr.KindUnimplemented
	KindServiceUnavailable = clouderr.KindServiceUnavailable
)

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return clouderr.Is(err, kind)
}

// Names returns every provider backend registered via a blank import,
// e.g. []string{"box", "dropbox", "google", ...}.
func Names() []string {
	return provider.Names()
}

// Config holds the construction-time state a Client needs: the backend's
// name, saved credentials, and any provider-specific hints (OAuth2 client
// ID/secret, S3 bucket/region, a WebDAV endpoint, ...).
type Config struct {
	Provider   string
	Token      Token
	Hints      Hints
	Permission Permission
	Logger     *slog.Logger

	// Workers bounds the thread pool backing blocking provider work
	// (HTTP round trips, local filesystem I/O). Defaults to 4 when zero.
	Workers int64
}

// Client wraps a single provider.Provider instance together with the async
// runtime (thread pool + event loop) every Promise it returns resolves on.
// The zero value is not usable; construct with Open.
type Client struct {
	backend provider.Provider
	pool    *cloudcore.ThreadPool
	loop    *cloudcore.EventLoop
	cancel  context.CancelFunc
}

// Open constructs the named backend and starts its event loop on a
// background goroutine, returning once the backend itself is ready. The
// returned Client owns that goroutine; call Close to stop it.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool := cloudcore.NewThreadPool(workers)
	loop := cloudcore.NewEventLoop()

	loopCtx, cancel := context.WithCancel(ctx)
	go loop.Exec(loopCtx)

	backend, err := provider.Create(cfg.Provider, provider.InitData{
		Token:      cfg.Token,
		Hints:      cfg.Hints,
		Permission: cfg.Permission,
		Callback:   provider.NopAuthCallback{},
		Pool:       pool,
		Loop:       loop,
		Logger:     logger,
	})
	if err != nil {
		cancel()

		return nil, fmt.Errorf("cloudfs: constructing %q: %w", cfg.Provider, err)
	}

	return &Client{backend: backend, pool: pool, loop: loop, cancel: cancel}, nil
}

// Close stops the event loop and waits for any in-flight thread pool work
// to finish. Safe to call once; a Client is not usable afterward.
func (c *Client) Close() {
	c.cancel()
	c.pool.Wait()
}

// Name is the backend's registered provider name, e.g. "onedrive".
func (c *Client) Name() string { return c.backend.Name() }

// Token returns the backend's current credential pair, reflecting any
// refresh that has happened since Open.
func (c *Client) Token() Token { return c.backend.Token() }

// Hints returns the hints the backend was constructed with, amended by any
// bootstrap exchange the backend performed (e.g. hubiC's Swift handoff).
func (c *Client) Hints() Hints { return c.backend.Hints() }

// Permission reports whether this Client accepts mutating operations.
func (c *Client) Permission() Permission { return c.backend.Permission() }

// RootDirectory returns the backend's reserved root Item.
func (c *Client) RootDirectory() Item { return c.backend.RootDirectory() }

// AuthorizeLibraryURL returns the URL a user opens to grant OAuth2 consent,
// or "" for a backend with no interactive consent step.
func (c *Client) AuthorizeLibraryURL() string { return c.backend.AuthorizeLibraryURL() }

// ExchangeCode trades an authorization code pasted back from
// AuthorizeLibraryURL for a Token.
func (c *Client) ExchangeCode(code string) *Promise[Token] { return c.backend.ExchangeCode(code) }

// ListDirectoryPage lists one page of item's children.
func (c *Client) ListDirectoryPage(item Item, pageToken string) *Promise[ListPage] {
	return c.backend.ListDirectoryPage(item, pageToken)
}

// ListDirectory drains every page of item's children into one slice.
func (c *Client) ListDirectory(item Item) *Promise[[]Item] {
	return c.backend.ListDirectory(item)
}

// GetItemData fetches metadata for the item with the given backend ID.
func (c *Client) GetItemData(id string) *Promise[Item] { return c.backend.GetItemData(id) }

// GetItem resolves a slash-separated path to an Item, when the backend
// supports path lookup; some backends return clouderr.Unimplemented.
func (c *Client) GetItem(path string) *Promise[Item] { return c.backend.GetItem(path) }

// GetFileURL returns a direct download URL for item, when the backend
// exposes one.
func (c *Client) GetFileURL(item Item) *Promise[string] { return c.backend.GetFileURL(item) }

// DownloadFile streams rng of item's content through cb.
func (c *Client) DownloadFile(item Item, rng Range, cb DownloadCallback) *Promise[struct{}] {
	return c.backend.DownloadFile(item, rng, cb)
}

// UploadFile creates filename under parent with content supplied by cb.
func (c *Client) UploadFile(parent Item, filename string, cb UploadCallback) *Promise[Item] {
	return c.backend.UploadFile(parent, filename, cb)
}

// CreateDirectory creates a folder named name under parent.
func (c *Client) CreateDirectory(parent Item, name string) *Promise[Item] {
	return c.backend.CreateDirectory(parent, name)
}

// DeleteItem removes item.
func (c *Client) DeleteItem(item Item) *Promise[struct{}] { return c.backend.DeleteItem(item) }

// MoveItem relocates item under newParent, keeping its name.
func (c *Client) MoveItem(item Item, newParent Item) *Promise[Item] {
	return c.backend.MoveItem(item, newParent)
}

// RenameItem changes item's name in place.
func (c *Client) RenameItem(item Item, newName string) *Promise[Item] {
	return c.backend.RenameItem(item, newName)
}

// GetThumbnail fetches a thumbnail image for item, when the backend has one.
func (c *Client) GetThumbnail(item Item) *Promise[[]byte] { return c.backend.GetThumbnail(item) }

// GeneralData reports account identity and storage quota.
func (c *Client) GeneralData() *Promise[GeneralData] { return c.backend.GeneralData() }
