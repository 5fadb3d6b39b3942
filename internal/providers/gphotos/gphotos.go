// Package gphotos implements a thin provider.Provider slice against the
// Google Photos Library API, adapted from googledrive.Backend's OAuth2
// and request-template plumbing. Google Photos is a media library, not a
// hierarchical filesystem - it has no folders, no rename, no arbitrary
// upload destination - so only the read-side operations a library can
// honor (list media as a flat directory, fetch item metadata, download
// bytes) are implemented; the rest, including storage usage, return
// clouderr.Unimplemented with the specific reason at each call site.
package gphotos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudauth"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/httpengine"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

const Name = "gphotos"

const (
	DefaultBaseURL = "https://photoslibrary.googleapis.com/v1"
	pageSize       = 100
	userAgent      = "cloudfs/0.1"
)

func init() {
	provider.Register(Name, New)
}

type Backend struct {
	engine     httpengine.Engine
	baseURL    string
	coord      *cloudauth.Coordinator
	hints      provider.Hints
	permission provider.Permission
	logger     *slog.Logger
	pool       *cloudcore.ThreadPool
	loop       *cloudcore.EventLoop
}

func New(data provider.InitData) (provider.Provider, error) {
	cfg := &oauth2.Config{
		ClientID:     data.Hints.Get(provider.HintClientID),
		ClientSecret: data.Hints.Get(provider.HintClientSecret),
		RedirectURL:  data.Hints.Get(provider.HintRedirectURI),
		Endpoint:     googleoauth.Endpoint,
		Scopes:       []string{"https://www.googleapis.com/auth/photoslibrary.readonly"},
	}

	var seed *oauth2.Token
	if data.Token.AccessToken != "" || data.Token.RefreshToken != "" {
		seed = &oauth2.Token{AccessToken: data.Token.AccessToken, RefreshToken: data.Token.RefreshToken}
		if data.Token.ExpiresIn > 0 {
			seed.Expiry = time.Now().Add(time.Duration(data.Token.ExpiresIn) * time.Second)
		}
	}

	src := cloudauth.NewOAuth2(cfg, data.Hints.Get(provider.HintState), seed)
	coord := cloudauth.NewCoordinator(src, data.Callback)

	logger := data.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := data.Hints.Get(provider.HintEndpoint)
	if base == "" {
		base = DefaultBaseURL
	}

	return &Backend{
		engine:     httpengine.NewDefault(logger),
		baseURL:    base,
		coord:      coord,
		hints:      data.Hints,
		permission: provider.ReadOnly,
		logger:     logger,
		pool:       data.Pool,
		loop:       data.Loop,
	}, nil
}

func (b *Backend) Name() string                   { return Name }
func (b *Backend) Endpoint() string                { return b.baseURL }
func (b *Backend) RootDirectory() provider.Item    { return provider.Item{ID: "", Type: provider.TypeDirectory} }
func (b *Backend) AuthorizeLibraryURL() string     { return b.coord.Source().AuthorizeLibraryURL() }
func (b *Backend) Hints() provider.Hints           { return b.hints }
func (b *Backend) Permission() provider.Permission { return provider.ReadOnly }

func (b *Backend) Token() provider.Token {
	tok, _ := b.coord.Source().Token(context.Background())

	return tok
}

func (b *Backend) ExchangeCode(code string) *cloudcore.Promise[provider.Token] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Token, error) {
		return b.coord.Source().ExchangeCode(ctx, code)
	})
}

func (b *Backend) getToken(ctx context.Context) (provider.Token, error) { return b.coord.Source().Token(ctx) }
func (b *Backend) refresh(ctx context.Context) (provider.Token, error)  { return b.coord.Refresh(ctx) }

type mediaItem struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	BaseURL       string `json:"baseUrl"`
	MediaMetadata struct {
		CreationTime string `json:"creationTime"`
	} `json:"mediaMetadata"`
}

func (m mediaItem) toItem() provider.Item {
	it := provider.Item{
		ID:       m.ID,
		Filename: m.Filename,
		Size:     provider.SizeUnknown,
		Type:     provider.TypeFile,
		URL:      m.BaseURL,
	}

	switch {
	case len(m.MimeType) >= 6 && m.MimeType[:6] == "image/":
		it.Type = provider.TypeImage
	case len(m.MimeType) >= 6 && m.MimeType[:6] == "video/":
		it.Type = provider.TypeVideo
	}

	if t, err := time.Parse(time.RFC3339, m.MediaMetadata.CreationTime); err == nil {
		it.Timestamp = t
	}

	return it
}

type mediaItemsResponse struct {
	MediaItems    []mediaItem `json:"mediaItems"`
	NextPageToken string      `json:"nextPageToken"`
}

func jsonGet[T any](b *Backend, ctx context.Context, path string) (T, error) {
	var zero T

	return provider.Execute(ctx, b.getToken, b.refresh, provider.DefaultShouldReauth,
		func(ctx context.Context, tok provider.Token) (*httpengine.Response, error) {
			req := b.engine.Create(b.baseURL+path, http.MethodGet, true)
			req.SetHeaderParameter("Authorization", "Bearer "+tok.AccessToken)
			req.SetHeaderParameter("User-Agent", userAgent)

			return req.Send(ctx, nil, httpengine.NopCallback{})
		},
		func(resp *httpengine.Response) (T, error) {
			defer resp.Body.Close()

			if !resp.Success(nil) {
				return zero, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
			}

			if err := json.NewDecoder(resp.Body).Decode(&zero); err != nil {
				return zero, clouderr.Parse(fmt.Sprintf("gphotos: decoding response: %v", err))
			}

			return zero, nil
		})
}

// ListDirectoryPage lists the whole library as one flat "directory" -
// Google Photos has no folder hierarchy, so item.ID is ignored and only
// the root listing is meaningful.
func (b *Backend) ListDirectoryPage(item provider.Item, token string) *cloudcore.Promise[provider.ListPage] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.ListPage, error) {
		path := fmt.Sprintf("/mediaItems?pageSize=%d", pageSize)
		if token != "" {
			path += "&pageToken=" + token
		}

		resp, err := jsonGet[mediaItemsResponse](b, ctx, path)
		if err != nil {
			return provider.ListPage{}, err
		}

		page := provider.ListPage{Items: make([]provider.Item, 0, len(resp.MediaItems)), NextToken: resp.NextPageToken}
		for _, m := range resp.MediaItems {
			page.Items = append(page.Items, m.toItem())
		}

		return page, nil
	})
}

func (b *Backend) ListDirectory(item provider.Item) *cloudcore.Promise[[]provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) ([]provider.Item, error) {
		var all []provider.Item

		token := ""
		for {
			page, err := b.ListDirectoryPage(item, token).Wait()
			if err != nil {
				return nil, err
			}

			all = append(all, page.Items...)

			if page.NextToken == "" {
				break
			}

			token = page.NextToken
		}

		return all, nil
	})
}

func (b *Backend) GetItemData(id string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		resp, err := jsonGet[mediaItem](b, ctx, "/mediaItems/"+id)
		if err != nil {
			return provider.Item{}, err
		}

		return resp.toItem(), nil
	})
}

func (b *Backend) GetItem(path string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		return provider.Item{}, clouderr.Unimplemented("get_item")
	})
}

// GetFileURL returns the media item's baseUrl, which Google documents as
// short-lived (about 60 minutes); callers must re-fetch via
// GetItemData/GetItem rather than persisting it.
func (b *Backend) GetFileURL(item provider.Item) *cloudcore.Promise[string] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (string, error) {
		if item.URL != "" {
			return item.URL + "=d", nil
		}

		fetched, err := b.GetItemData(item.ID).Wait()
		if err != nil {
			return "", err
		}

		return fetched.URL + "=d", nil
	})
}

// DownloadFile appends Google Photos' documented "=d" download suffix to
// the item's baseUrl and streams the bytes; the library has no separate
// authenticated download endpoint.
func (b *Backend) DownloadFile(item provider.Item, rng provider.Range, cb provider.DownloadCallback) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		u, err := b.GetFileURL(item).Wait()
		if err != nil {
			cb.Done(err)

			return struct{}{}, err
		}

		_, err = provider.Execute(ctx, b.getToken, b.refresh, provider.DefaultShouldReauth,
			func(ctx context.Context, tok provider.Token) (*httpengine.Response, error) {
				req := b.engine.Create(u, http.MethodGet, true)
				req.SetHeaderParameter("Authorization", "Bearer "+tok.AccessToken)

				if !(rng.Start == 0 && rng.IsFull()) {
					end := ""
					if !rng.IsFull() {
						end = strconv.FormatInt(rng.Start+rng.Size-1, 10)
					}

					req.SetHeaderParameter("Range", fmt.Sprintf("bytes=%d-%s", rng.Start, end))
				}

				return req.Send(ctx, nil, httpengine.NopCallback{})
			},
			func(resp *httpengine.Response) (struct{}, error) {
				defer resp.Body.Close()

				buf := make([]byte, 64*1024)
				var total int64

				for {
					n, rerr := resp.Body.Read(buf)
					if n > 0 {
						cb.ReceivedData(buf[:n])
						total += int64(n)
						cb.Progress(item.Size, total)
					}

					if rerr != nil {
						break
					}
				}

				return struct{}{}, nil
			})

		cb.Done(err)

		return struct{}{}, err
	})
}

// UploadFile is unimplemented: Google Photos uploads are a two-step
// upload-token-then-create-media-item dance scoped to an album, not a
// single PUT against an arbitrary parent - it doesn't fit the uniform
// (parent, filename, callback) contract without inventing album
// semantics the rest of the interface has no concept of.
func (b *Backend) UploadFile(parent provider.Item, filename string, cb provider.UploadCallback) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		return provider.Item{}, clouderr.Unimplemented("upload_file")
	})
}

func (b *Backend) CreateDirectory(parent provider.Item, name string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		return provider.Item{}, clouderr.Unimplemented("create_directory")
	})
}

func (b *Backend) DeleteItem(item provider.Item) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, clouderr.Unimplemented("delete_item")
	})
}

func (b *Backend) MoveItem(item provider.Item, newParent provider.Item) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		return provider.Item{}, clouderr.Unimplemented("move_item")
	})
}

func (b *Backend) RenameItem(item provider.Item, newName string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		return provider.Item{}, clouderr.Unimplemented("rename_item")
	})
}

func (b *Backend) GetThumbnail(item provider.Item) *cloudcore.Promise[[]byte] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) ([]byte, error) {
		return nil, clouderr.Unimplemented("get_thumbnail")
	})
}

// GeneralData is unimplemented: the Photos Library API reports no
// account-level quota of its own (storage is shared with Drive/Gmail
// and surfaced only through a separate, unrelated API).
func (b *Backend) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.GeneralData, error) {
		return provider.GeneralData{}, clouderr.Unimplemented("general_data")
	})
}
