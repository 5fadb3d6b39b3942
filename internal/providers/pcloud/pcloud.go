// Package pcloud implements a thin provider.Provider slice against
// pCloud's v1 REST API, adapted from onedrive.Backend's OAuth2/request
// template plumbing. Listing, item metadata by ID, download and storage
// usage are implemented; every other operation returns
// clouderr.Unimplemented, per SPEC_FULL.md's own allowance for this tier
// of provider.
package pcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudauth"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/httpengine"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

const Name = "pcloud"

const (
	DefaultBaseURL = "https://api.pcloud.com"
	userAgent      = "cloudfs/0.1"
)

var oauthEndpoint = oauth2.Endpoint{
	AuthURL:  "https://my.pcloud.com/oauth2/authorize",
	TokenURL: "https://api.pcloud.com/oauth2_token",
}

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
		Endpoint:     oauthEndpoint,
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
		permission: data.Permission,
		logger:     logger,
		pool:       data.Pool,
		loop:       data.Loop,
	}, nil
}

func (b *Backend) Name() string                   { return Name }
func (b *Backend) Endpoint() string                { return b.baseURL }
func (b *Backend) RootDirectory() provider.Item    { return provider.Item{ID: "0", Type: provider.TypeDirectory} }
func (b *Backend) AuthorizeLibraryURL() string     { return b.coord.Source().AuthorizeLibraryURL() }
func (b *Backend) Hints() provider.Hints           { return b.hints }
func (b *Backend) Permission() provider.Permission { return b.permission }

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

// pCloud's API reports application-level success via a "result" field
// (0 == ok) inside a 200 response, not via HTTP status codes.
type apiError struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

func (e apiError) check() error {
	if e.Result != 0 {
		return clouderr.HTTP(e.Result, e.Error)
	}

	return nil
}

type metadataEntry struct {
	apiError
	IsFolder bool            `json:"isfolder"`
	Name     string          `json:"name"`
	FileID   int64           `json:"fileid"`
	FolderID int64           `json:"folderid"`
	Size     int64           `json:"size"`
	Modified string          `json:"modified"`
	Contents []metadataEntry `json:"contents"`
}

func (m metadataEntry) id() string {
	if m.IsFolder {
		return "d" + strconv.FormatInt(m.FolderID, 10)
	}

	return "f" + strconv.FormatInt(m.FileID, 10)
}

func (m metadataEntry) toItem() provider.Item {
	it := provider.Item{ID: m.id(), Filename: m.Name, Size: provider.SizeUnknown, Type: provider.TypeFile}
	if m.IsFolder {
		it.Type = provider.TypeDirectory
	} else {
		it.Size = m.Size
	}

	if t, err := time.Parse(time.RFC1123Z, m.Modified); err == nil {
		it.Timestamp = t
	}

	return it
}

type statResponse struct {
	apiError
	Metadata metadataEntry `json:"metadata"`
}

func jsonGet[T any](b *Backend, ctx context.Context, path string) (T, error) {
	var zero T

	return provider.Execute(ctx, b.getToken, b.refresh, provider.DefaultShouldReauth,
		func(ctx context.Context, tok provider.Token) (*httpengine.Response, error) {
			sep := "?"
			if indexOf(path, '?') >= 0 {
				sep = "&"
			}

			req := b.engine.Create(b.baseURL+path+sep+"access_token="+tok.AccessToken, http.MethodGet, true)
			req.SetHeaderParameter("User-Agent", userAgent)

			return req.Send(ctx, nil, httpengine.NopCallback{})
		},
		func(resp *httpengine.Response) (T, error) {
			defer resp.Body.Close()

			if !resp.Success(nil) {
				return zero, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
			}

			if err := json.NewDecoder(resp.Body).Decode(&zero); err != nil {
				return zero, clouderr.Parse(fmt.Sprintf("pcloud: decoding response: %v", err))
			}

			return zero, nil
		})
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}

	return -1
}

func folderNumericID(itemID string) string {
	if len(itemID) > 0 && itemID[0] == 'd' {
		return itemID[1:]
	}

	return "0"
}

func (b *Backend) ListDirectoryPage(item provider.Item, token string) *cloudcore.Promise[provider.ListPage] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.ListPage, error) {
		if token != "" {
			return provider.ListPage{}, nil
		}

		resp, err := jsonGet[statResponse](b, ctx, "/listfolder?folderid="+folderNumericID(item.ID))
		if err != nil {
			return provider.ListPage{}, err
		}

		if err := resp.check(); err != nil {
			return provider.ListPage{}, err
		}

		page := provider.ListPage{Items: make([]provider.Item, 0, len(resp.Metadata.Contents))}
		for _, c := range resp.Metadata.Contents {
			page.Items = append(page.Items, c.toItem())
		}

		return page, nil
	})
}

func (b *Backend) ListDirectory(item provider.Item) *cloudcore.Promise[[]provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) ([]provider.Item, error) {
		page, err := b.ListDirectoryPage(item, "").Wait()
		if err != nil {
			return nil, err
		}

		return page.Items, nil
	})
}

func (b *Backend) GetItemData(id string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		op := "/checksumfile?fileid=" + id[1:]
		if len(id) > 0 && id[0] == 'd' {
			op = "/listfolder?folderid=" + id[1:]
		}

		resp, err := jsonGet[statResponse](b, ctx, op)
		if err != nil {
			return provider.Item{}, err
		}

		if err := resp.check(); err != nil {
			return provider.Item{}, err
		}

		return resp.Metadata.toItem(), nil
	})
}

func (b *Backend) GetItem(path string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		return provider.Item{}, clouderr.Unimplemented("get_item")
	})
}

// GetFileURL is unimplemented: pCloud's getfilelink issues a short-lived
// CDN-hosted URL on its own download host, a two-call sequence
// DownloadFile performs directly rather than surfacing as a standalone
// reusable link.
func (b *Backend) GetFileURL(item provider.Item) *cloudcore.Promise[string] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (string, error) {
		return "", clouderr.Unimplemented("get_file_url")
	})
}

type fileLinkResponse struct {
	apiError
	Hosts []string `json:"hosts"`
	Path  string   `json:"path"`
}

func (b *Backend) DownloadFile(item provider.Item, rng provider.Range, cb provider.DownloadCallback) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		link, err := jsonGet[fileLinkResponse](b, ctx, "/getfilelink?fileid="+item.ID[1:])
		if err != nil {
			cb.Done(err)

			return struct{}{}, err
		}

		if err := link.check(); err != nil {
			cb.Done(err)

			return struct{}{}, err
		}

		if len(link.Hosts) == 0 {
			derr := clouderr.Parse("pcloud: getfilelink returned no hosts")
			cb.Done(derr)

			return struct{}{}, derr
		}

		url := "https://" + link.Hosts[0] + link.Path

		req := b.engine.Create(url, http.MethodGet, true)
		if !(rng.Start == 0 && rng.IsFull()) {
			end := ""
			if !rng.IsFull() {
				end = strconv.FormatInt(rng.Start+rng.Size-1, 10)
			}

			req.SetHeaderParameter("Range", fmt.Sprintf("bytes=%d-%s", rng.Start, end))
		}

		resp, err := req.Send(ctx, nil, httpengine.NopCallback{})
		if err != nil {
			derr := clouderr.Wrap(err)
			cb.Done(derr)

			return struct{}{}, derr
		}
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

		cb.Done(nil)

		return struct{}{}, nil
	})
}

// UploadFile is unimplemented: pCloud's uploadfile expects a
// multipart/form-data body keyed by the destination filename as the
// field name itself, a shape this thin pass leaves for a future one.
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

type userInfoResponse struct {
	apiError
	Quota      int64 `json:"quota"`
	UsedQuota  int64 `json:"usedquota"`
	Email      string `json:"email"`
}

func (b *Backend) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.GeneralData, error) {
		resp, err := jsonGet[userInfoResponse](b, ctx, "/userinfo")
		if err != nil {
			return provider.GeneralData{}, err
		}

		if err := resp.check(); err != nil {
			return provider.GeneralData{}, err
		}

		return provider.GeneralData{Username: resp.Email, SpaceUsed: resp.UsedQuota, SpaceTotal: resp.Quota}, nil
	})
}
