// Package onedrive implements provider.Provider against the Microsoft
// Graph API, adapted from internal/graph's client/auth/items/upload/download
// logic: same retry tuning, same JSON wire shapes, generalized behind the
// uniform Provider interface instead of a OneDrive-specific Client type.
package onedrive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	msoauth "golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudauth"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/httpengine"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/rangecache"
	"github.com/tonimelisma/cloudfs/pkg/quickxorhash"
)

// Name is the registry key and the Provider.Name() value.
const Name = "onedrive"

// DefaultBaseURL is the production Microsoft Graph API v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const (
	simpleUploadMaxSize    = 4 * 1024 * 1024
	chunkedUploadChunkSize = 10 * 1024 * 1024
	listChildrenPageSize   = 200
	userAgent              = "cloudfs/0.1"
)

func init() {
	provider.Register(Name, New)
}

// Backend is the onedrive Provider implementation.
type Backend struct {
	engine     httpengine.Engine
	baseURL    string
	coord      *cloudauth.Coordinator
	hints      provider.Hints
	permission provider.Permission
	logger     *slog.Logger
	pool       *cloudcore.ThreadPool
	loop       *cloudcore.EventLoop
	scopes     []string

	cacheMu sync.Mutex
	caches  map[string]*rangecache.Cache
}

// New builds a Backend from InitData, wiring a golang.org/x/oauth2.Config
// against the Microsoft identity platform endpoint the way
// internal/graph/auth.go does for device-code and browser+PKCE login.
func New(data provider.InitData) (provider.Provider, error) {
	cfg := &oauth2.Config{
		ClientID:     data.Hints.Get(provider.HintClientID),
		ClientSecret: data.Hints.Get(provider.HintClientSecret),
		RedirectURL:  data.Hints.Get(provider.HintRedirectURI),
		Endpoint:     msoauth.AzureADEndpoint("consumers"),
		Scopes:       []string{"Files.ReadWrite.All", "offline_access"},
	}

	var seed *oauth2.Token
	if data.Token.AccessToken != "" || data.Token.RefreshToken != "" {
		seed = &oauth2.Token{
			AccessToken:  data.Token.AccessToken,
			RefreshToken: data.Token.RefreshToken,
		}
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

	endpoint := data.Hints.Get(provider.HintEndpoint)
	if endpoint == "" {
		endpoint = DefaultBaseURL
	}

	return &Backend{
		engine:     httpengine.NewDefault(logger),
		baseURL:    endpoint,
		coord:      coord,
		hints:      data.Hints,
		permission: data.Permission,
		logger:     logger,
		pool:       data.Pool,
		loop:       data.Loop,
		caches:     make(map[string]*rangecache.Cache),
	}, nil
}

// rangeCacheFor returns the read-ahead cache for item, constructing it
// lazily on the item's first sub-range request.
func (b *Backend) rangeCacheFor(item provider.Item, fetch rangecache.Fetcher) *rangecache.Cache {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	if c, ok := b.caches[item.ID]; ok {
		return c
	}

	c := rangecache.New(item.Size, rangecache.DefaultChunkCount, rangecache.DefaultReadAhead, fetch, b.pool, b.loop)
	b.caches[item.ID] = c

	return c
}

func (b *Backend) Name() string                   { return Name }
func (b *Backend) Endpoint() string                { return b.baseURL }
func (b *Backend) RootDirectory() provider.Item    { return provider.Item{ID: "root", Filename: "", Type: provider.TypeDirectory} }
func (b *Backend) AuthorizeLibraryURL() string      { return b.coord.Source().AuthorizeLibraryURL() }
func (b *Backend) Hints() provider.Hints            { return b.hints }
func (b *Backend) Permission() provider.Permission  { return b.permission }

func (b *Backend) Token() provider.Token {
	tok, _ := b.coord.Source().Token(context.Background())

	return tok
}

func (b *Backend) ExchangeCode(code string) *cloudcore.Promise[provider.Token] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Token, error) {
		return b.coord.Source().ExchangeCode(ctx, code)
	})
}

// --- wire shapes, mirroring internal/graph/items.go's driveItemResponse ---

type driveItemResponse struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
	DownloadURL          string       `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle
}

type fileFacet struct {
	MimeType string   `json:"mimeType"`
	Hashes   *hashSet `json:"hashes"`
}

type hashSet struct {
	QuickXorHash string `json:"quickXorHash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type thumbnailSet struct {
	Medium struct {
		URL string `json:"url"`
	} `json:"medium"`
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle
}

func (d driveItemResponse) toItem() provider.Item {
	it := provider.Item{
		ID:       d.ID,
		Filename: d.Name,
		Size:     provider.SizeUnknown,
		URL:      d.DownloadURL,
		Type:     provider.TypeFile,
	}

	if d.Folder != nil {
		it.Type = provider.TypeDirectory
		it.Size = provider.SizeUnknown
	} else {
		it.Size = d.Size
	}

	if d.File != nil {
		switch {
		case len(d.File.MimeType) >= 6 && d.File.MimeType[:6] == "image/":
			it.Type = provider.TypeImage
		case len(d.File.MimeType) >= 6 && d.File.MimeType[:6] == "audio/":
			it.Type = provider.TypeAudio
		case len(d.File.MimeType) >= 6 && d.File.MimeType[:6] == "video/":
			it.Type = provider.TypeVideo
		}
	}

	if t, err := time.Parse(time.RFC3339, d.LastModifiedDateTime); err == nil {
		it.Timestamp = t
	}

	return it
}

// --- auth plumbing shared by every operation ---

func (b *Backend) authHeader(ctx context.Context, tok provider.Token) string {
	return "Bearer " + tok.AccessToken
}

func (b *Backend) getToken(ctx context.Context) (provider.Token, error) {
	return b.coord.Source().Token(ctx)
}

func (b *Backend) refresh(ctx context.Context) (provider.Token, error) {
	return b.coord.Refresh(ctx)
}

func jsonDo[T any](b *Backend, ctx context.Context, method, path string, body []byte) (T, error) {
	var zero T

	return provider.Execute(ctx, b.getToken, b.refresh, provider.DefaultShouldReauth,
		func(ctx context.Context, tok provider.Token) (*httpengine.Response, error) {
			req := b.engine.Create(b.baseURL+path, method, true)
			req.SetHeaderParameter("Authorization", b.authHeader(ctx, tok))
			req.SetHeaderParameter("User-Agent", userAgent)

			var reader io.Reader
			if body != nil {
				req.SetHeaderParameter("Content-Type", "application/json")
				reader = bytes.NewReader(body)
			}

			return req.Send(ctx, reader, httpengine.NopCallback{})
		},
		func(resp *httpengine.Response) (T, error) {
			defer resp.Body.Close()

			if err := json.NewDecoder(resp.Body).Decode(&zero); err != nil {
				return zero, clouderr.Parse(fmt.Sprintf("onedrive: decoding response: %v", err))
			}

			return zero, nil
		})
}

// ListDirectoryPage fetches one page of children, following
// internal/graph/items.go's $top=200/@odata.nextLink pagination contract.
func (b *Backend) ListDirectoryPage(item provider.Item, token string) *cloudcore.Promise[provider.ListPage] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.ListPage, error) {
		path := token
		if path == "" {
			path = fmt.Sprintf("/drives/me/items/%s/children?$top=%d", url.PathEscape(item.ID), listChildrenPageSize)
		}

		resp, err := jsonDo[listChildrenResponse](b, ctx, http.MethodGet, path, nil)
		if err != nil {
			return provider.ListPage{}, err
		}

		page := provider.ListPage{Items: make([]provider.Item, 0, len(resp.Value))}
		for _, di := range resp.Value {
			page.Items = append(page.Items, di.toItem())
		}

		if resp.NextLink != "" {
			page.NextToken = b.stripBaseURL(resp.NextLink)
		}

		return page, nil
	})
}

// ListDirectory drains every page via ListDirectoryPage.
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

func (b *Backend) stripBaseURL(full string) string {
	if len(full) > len(b.baseURL) && full[:len(b.baseURL)] == b.baseURL {
		return full[len(b.baseURL):]
	}

	return full
}

func (b *Backend) GetItemData(id string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		resp, err := jsonDo[driveItemResponse](b, ctx, http.MethodGet, "/drives/me/items/"+url.PathEscape(id), nil)
		if err != nil {
			return provider.Item{}, err
		}

		return resp.toItem(), nil
	})
}

func (b *Backend) GetItem(path string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		encoded := url.PathEscape(path)
		resp, err := jsonDo[driveItemResponse](b, ctx, http.MethodGet, "/drives/me/root:/"+encoded+":", nil)
		if err != nil {
			return provider.Item{}, err
		}

		return resp.toItem(), nil
	})
}

func (b *Backend) GetFileURL(item provider.Item) *cloudcore.Promise[string] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (string, error) {
		resp, err := jsonDo[driveItemResponse](b, ctx, http.MethodGet, "/drives/me/items/"+url.PathEscape(item.ID), nil)
		if err != nil {
			return "", err
		}

		if resp.DownloadURL == "" {
			return "", clouderr.NotFound("onedrive: item has no direct download URL")
		}

		return resp.DownloadURL, nil
	})
}

// fetchRange issues one ranged GET against item's pre-authenticated
// download URL and returns the bytes whole; it is rangecache.Fetcher's
// shape, used both directly by DownloadFile's full-stream path and as
// the read-ahead cache's underlying fetch for sub-range requests.
func (b *Backend) fetchRange(ctx context.Context, downloadURL string, rng provider.Range) ([]byte, error) {
	req := b.engine.Create(downloadURL, http.MethodGet, true)
	if !(rng.Start == 0 && rng.IsFull()) {
		end := ""
		if !rng.IsFull() {
			end = strconv.FormatInt(rng.Start+rng.Size-1, 10)
		}

		req.SetHeaderParameter("Range", fmt.Sprintf("bytes=%d-%s", rng.Start, end))
	}

	resp, err := req.Send(ctx, nil, httpengine.NopCallback{})
	if err != nil {
		return nil, clouderr.Wrap(err)
	}
	defer resp.Body.Close()

	if !resp.Success(nil) {
		return nil, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
	}

	return io.ReadAll(resp.Body)
}

// DownloadFile streams item's content (optionally a byte range) to cb,
// using the item's pre-authenticated download URL the same way
// internal/graph's doPreAuthRetry bypasses the Authorization header. A
// full-item request streams directly off the wire; a sub-range request
// is served through the item's internal/rangecache.Cache, which
// deduplicates concurrent fetches of the same bytes and read-ahead
// fetches the following chunk for sequential access patterns such as
// media playback or seek-heavy readers.
func (b *Backend) DownloadFile(item provider.Item, rng provider.Range, cb provider.DownloadCallback) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		downloadURL, err := b.GetFileURL(item).Wait()
		if err != nil {
			cb.Done(err)

			return struct{}{}, err
		}

		if rng.Start == 0 && rng.IsFull() {
			return b.streamFull(ctx, downloadURL, item, cb)
		}

		cache := b.rangeCacheFor(item, func(ctx context.Context, r provider.Range) ([]byte, error) {
			return b.fetchRange(ctx, downloadURL, r)
		})

		data, err := cache.Read(ctx, rng).Wait()
		if err != nil {
			cb.Done(err)

			return struct{}{}, err
		}

		cb.ReceivedData(data)
		cb.Progress(item.Size, int64(len(data)))
		cb.Done(nil)

		return struct{}{}, nil
	})
}

func (b *Backend) streamFull(ctx context.Context, downloadURL string, item provider.Item, cb provider.DownloadCallback) (struct{}, error) {
	req := b.engine.Create(downloadURL, http.MethodGet, true)

	resp, err := req.Send(ctx, nil, downloadProgressCallback{cb})
	if err != nil {
		cb.Done(clouderr.Wrap(err))

		return struct{}{}, clouderr.Wrap(err)
	}
	defer resp.Body.Close()

	if !resp.Success(nil) {
		derr := clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		cb.Done(derr)

		return struct{}{}, derr
	}

	buf := make([]byte, 64*1024)
	var total int64

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			cb.ReceivedData(buf[:n])
			total += int64(n)
			cb.Progress(item.Size, total)
		}

		if rerr == io.EOF {
			break
		}

		if rerr != nil {
			werr := clouderr.Wrap(rerr)
			cb.Done(werr)

			return struct{}{}, werr
		}
	}

	cb.Done(nil)

	return struct{}{}, nil
}

type downloadProgressCallback struct {
	cb provider.DownloadCallback
}

func (downloadProgressCallback) IsCancelled() bool                        { return false }
func (downloadProgressCallback) IsSuccess(code int, _ http.Header) bool   { return code >= 200 && code < 400 }
func (downloadProgressCallback) OnUploadProgress(int64, int64)            {}
func (d downloadProgressCallback) OnDownloadProgress(total, now int64)    { d.cb.Progress(total, now) }

// UploadFile chooses simple vs. chunked upload exactly as
// internal/graph/upload.go's Upload does, switching at simpleUploadMaxSize.
func (b *Backend) UploadFile(parent provider.Item, filename string, cb provider.UploadCallback) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		size := cb.Size()

		if size <= simpleUploadMaxSize {
			return b.simpleUpload(ctx, parent, filename, cb, size)
		}

		return b.chunkedUpload(ctx, parent, filename, cb, size)
	})
}

func (b *Backend) simpleUpload(ctx context.Context, parent provider.Item, filename string, cb provider.UploadCallback, size int64) (provider.Item, error) {
	buf := make([]byte, size)
	if _, err := cb.PutData(buf, int(size), 0); err != nil {
		return provider.Item{}, clouderr.Wrap(err)
	}

	path := fmt.Sprintf("/drives/me/items/%s:/%s:/content", url.PathEscape(parent.ID), url.PathEscape(filename))

	resp, err := jsonDo[driveItemResponse](b, ctx, http.MethodPut, path, buf)
	if err != nil {
		return provider.Item{}, err
	}

	h := quickxorhash.New()
	_, _ = h.Write(buf)

	if err := verifyUploadHash(resp, h.Sum(nil)); err != nil {
		return provider.Item{}, err
	}

	return resp.toItem(), nil
}

// verifyUploadHash compares a locally-computed QuickXorHash digest against
// the digest Graph reports for the stored item, catching silent corruption
// in transit the way a resumable client should. A response carrying no
// hash (some facets omit it) is not an error.
func verifyUploadHash(resp driveItemResponse, gotDigest []byte) error {
	if resp.File == nil || resp.File.Hashes == nil || resp.File.Hashes.QuickXorHash == "" {
		return nil
	}

	want, err := base64.StdEncoding.DecodeString(resp.File.Hashes.QuickXorHash)
	if err != nil {
		return nil
	}

	if !bytes.Equal(gotDigest, want) {
		return clouderr.Failure("uploaded content hash mismatch")
	}

	return nil
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle
}

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionResponse struct {
	UploadURL string `json:"uploadUrl"`
}

// chunkedUpload creates a resumable session and streams chunks into it,
// rewinding via cb.PutData's offset parameter on each chunk the way
// internal/graph/upload.go re-reads from an io.ReaderAt per attempt.
func (b *Backend) chunkedUpload(ctx context.Context, parent provider.Item, filename string, cb provider.UploadCallback, size int64) (provider.Item, error) {
	createPath := fmt.Sprintf("/drives/me/items/%s:/%s:/createUploadSession", url.PathEscape(parent.ID), url.PathEscape(filename))

	reqBody, err := json.Marshal(createUploadSessionRequest{Item: uploadSessionItem{ConflictBehavior: "replace"}})
	if err != nil {
		return provider.Item{}, clouderr.Failure(err.Error())
	}

	session, err := jsonDo[uploadSessionResponse](b, ctx, http.MethodPost, createPath, reqBody)
	if err != nil {
		return provider.Item{}, err
	}

	var (
		lastResp driveItemResponse
		running  = quickxorhash.New()
	)

	for offset := int64(0); offset < size; {
		chunkSize := int64(chunkedUploadChunkSize)
		if offset+chunkSize > size {
			chunkSize = size - offset
		}

		buf := make([]byte, chunkSize)
		if _, err := cb.PutData(buf, int(chunkSize), offset); err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		_, _ = running.Write(buf)

		resp, done, err := b.uploadChunk(ctx, session.UploadURL, buf, offset, chunkSize, size)
		if err != nil {
			return provider.Item{}, err
		}

		if done {
			lastResp = resp
		}

		offset += chunkSize
	}

	if err := verifyUploadHash(lastResp, running.Sum(nil)); err != nil {
		return provider.Item{}, err
	}

	return lastResp.toItem(), nil
}

func (b *Backend) uploadChunk(ctx context.Context, uploadURL string, chunk []byte, offset, length, total int64) (driveItemResponse, bool, error) {
	req := b.engine.Create(uploadURL, http.MethodPut, true)
	req.SetHeaderParameter("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total))
	req.SetHeaderParameter("Content-Type", "application/octet-stream")

	resp, err := req.Send(ctx, bytes.NewReader(chunk), httpengine.NopCallback{})
	if err != nil {
		return driveItemResponse{}, false, clouderr.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.HTTPCode == http.StatusAccepted {
		return driveItemResponse{}, false, nil
	}

	if !resp.Success(nil) {
		return driveItemResponse{}, false, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
	}

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return driveItemResponse{}, false, clouderr.Parse(err.Error())
	}

	return dir, true, nil
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle
}

func (b *Backend) CreateDirectory(parent provider.Item, name string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		body, err := json.Marshal(createFolderRequest{Name: name, ConflictBehavior: "fail"})
		if err != nil {
			return provider.Item{}, clouderr.Failure(err.Error())
		}

		path := "/drives/me/items/" + url.PathEscape(parent.ID) + "/children"

		resp, err := jsonDo[driveItemResponse](b, ctx, http.MethodPost, path, body)
		if err != nil {
			return provider.Item{}, err
		}

		return resp.toItem(), nil
	})
}

func (b *Backend) DeleteItem(item provider.Item) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		if b.permission == provider.ReadOnly {
			return struct{}{}, clouderr.ServiceUnavailable("onedrive: provider opened read-only")
		}

		_, err := provider.Execute(ctx, b.getToken, b.refresh, provider.DefaultShouldReauth,
			func(ctx context.Context, tok provider.Token) (*httpengine.Response, error) {
				req := b.engine.Create(b.baseURL+"/drives/me/items/"+url.PathEscape(item.ID), http.MethodDelete, true)
				req.SetHeaderParameter("Authorization", b.authHeader(ctx, tok))

				return req.Send(ctx, nil, httpengine.NopCallback{})
			},
			func(resp *httpengine.Response) (struct{}, error) {
				defer resp.Body.Close()

				return struct{}{}, nil
			})

		return struct{}{}, err
	})
}

type moveItemRequest struct {
	ParentReference *moveParentRef `json:"parentReference,omitempty"`
	Name            string         `json:"name,omitempty"`
}

type moveParentRef struct {
	ID string `json:"id"`
}

func (b *Backend) MoveItem(item provider.Item, newParent provider.Item) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		body, err := json.Marshal(moveItemRequest{ParentReference: &moveParentRef{ID: newParent.ID}})
		if err != nil {
			return provider.Item{}, clouderr.Failure(err.Error())
		}

		resp, err := jsonDo[driveItemResponse](b, ctx, http.MethodPatch, "/drives/me/items/"+url.PathEscape(item.ID), body)
		if err != nil {
			return provider.Item{}, err
		}

		return resp.toItem(), nil
	})
}

func (b *Backend) RenameItem(item provider.Item, newName string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		body, err := json.Marshal(moveItemRequest{Name: newName})
		if err != nil {
			return provider.Item{}, clouderr.Failure(err.Error())
		}

		resp, err := jsonDo[driveItemResponse](b, ctx, http.MethodPatch, "/drives/me/items/"+url.PathEscape(item.ID), body)
		if err != nil {
			return provider.Item{}, err
		}

		return resp.toItem(), nil
	})
}

func (b *Backend) GetThumbnail(item provider.Item) *cloudcore.Promise[[]byte] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) ([]byte, error) {
		type thumbResp struct {
			Value []thumbnailSet `json:"value"`
		}

		resp, err := jsonDo[thumbResp](b, ctx, http.MethodGet, "/drives/me/items/"+url.PathEscape(item.ID)+"/thumbnails", nil)
		if err != nil {
			return nil, err
		}

		if len(resp.Value) == 0 || resp.Value[0].Medium.URL == "" {
			return nil, clouderr.Unimplemented("get_thumbnail")
		}

		req := b.engine.Create(resp.Value[0].Medium.URL, http.MethodGet, true)

		imgResp, err := req.Send(ctx, nil, httpengine.NopCallback{})
		if err != nil {
			return nil, clouderr.Wrap(err)
		}
		defer imgResp.Body.Close()

		data, err := io.ReadAll(imgResp.Body)
		if err != nil {
			return nil, clouderr.Wrap(err)
		}

		return data, nil
	})
}

type driveResponse struct {
	Owner struct {
		User struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"owner"`
	Quota struct {
		Used  int64 `json:"used"`
		Total int64 `json:"total"`
	} `json:"quota"`
}

func (b *Backend) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.GeneralData, error) {
		resp, err := jsonDo[driveResponse](b, ctx, http.MethodGet, "/drives/me", nil)
		if err != nil {
			return provider.GeneralData{}, err
		}

		return provider.GeneralData{
			Username:   resp.Owner.User.DisplayName,
			SpaceUsed:  resp.Quota.Used,
			SpaceTotal: resp.Quota.Total,
		}, nil
	})
}
