// Package hubic implements provider.Provider against hubiC's OpenStack
// Swift object storage, adapted from onedrive's Backend shape: the OAuth2
// bootstrap follows the same cloudauth.OAuth2 path, but every subsequent
// call switches to Swift's own X-Auth-Token header scheme once the
// credentials bootstrap has run.
package hubic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudauth"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/httpengine"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

const Name = "hubic"

const (
	DefaultAPIBaseURL = "https://api.hubic.com/1.0"
	defaultContainer  = "default"
	userAgent         = "cloudfs/0.1"
)

var oauthEndpoint = oauth2.Endpoint{
	AuthURL:  "https://api.hubic.com/oauth/auth/",
	TokenURL: "https://api.hubic.com/oauth/token/",
}

func init() {
	provider.Register(Name, New)
}

// swiftCredentials is what hubiC's /account/credentials bootstrap returns:
// a short-lived Swift endpoint + token pair, distinct from the long-lived
// OAuth2 token used only to fetch it.
type swiftCredentials struct {
	Token    string
	Endpoint string
	Expires  time.Time
}

// Backend is the hubic Provider implementation.
type Backend struct {
	engine     httpengine.Engine
	apiBaseURL string
	coord      *cloudauth.Coordinator
	hints      provider.Hints
	permission provider.Permission
	logger     *slog.Logger
	pool       *cloudcore.ThreadPool
	loop       *cloudcore.EventLoop

	mu    sync.Mutex
	swift swiftCredentials
}

func New(data provider.InitData) (provider.Provider, error) {
	cfg := &oauth2.Config{
		ClientID:     data.Hints.Get(provider.HintClientID),
		ClientSecret: data.Hints.Get(provider.HintClientSecret),
		RedirectURL:  data.Hints.Get(provider.HintRedirectURI),
		Endpoint:     oauthEndpoint,
		Scopes:       []string{"credentials.r"},
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

	apiBase := data.Hints.Get(provider.HintEndpoint)
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}

	return &Backend{
		engine:     httpengine.NewDefault(logger),
		apiBaseURL: apiBase,
		coord:      coord,
		hints:      data.Hints,
		permission: data.Permission,
		logger:     logger,
		pool:       data.Pool,
		loop:       data.Loop,
	}, nil
}

func (b *Backend) Name() string                   { return Name }
func (b *Backend) Endpoint() string                { return b.apiBaseURL }
func (b *Backend) RootDirectory() provider.Item    { return provider.Item{ID: "", Filename: "", Type: provider.TypeDirectory} }
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

type credentialsResponse struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
	Expires  string `json:"expires"`
}

// swiftAuth bootstraps (or refreshes, once expired) the short-lived Swift
// token by calling hubiC's /account/credentials with the long-lived OAuth2
// bearer token, per spec §4.5's "OAuth2 bootstrap then Swift container
// access via X-Auth-Token".
func (b *Backend) swiftAuth(ctx context.Context) (swiftCredentials, error) {
	b.mu.Lock()
	cur := b.swift
	b.mu.Unlock()

	if cur.Token != "" && time.Now().Before(cur.Expires) {
		return cur, nil
	}

	creds, err := provider.Execute(ctx, b.getToken, b.refresh, provider.DefaultShouldReauth,
		func(ctx context.Context, tok provider.Token) (*httpengine.Response, error) {
			req := b.engine.Create(b.apiBaseURL+"/account/credentials", http.MethodGet, true)
			req.SetHeaderParameter("Authorization", "Bearer "+tok.AccessToken)
			req.SetHeaderParameter("User-Agent", userAgent)

			return req.Send(ctx, nil, httpengine.NopCallback{})
		},
		func(resp *httpengine.Response) (credentialsResponse, error) {
			defer resp.Body.Close()

			var cr credentialsResponse
			if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
				return cr, clouderr.Parse(fmt.Sprintf("hubic: decoding credentials: %v", err))
			}

			return cr, nil
		})
	if err != nil {
		return swiftCredentials{}, err
	}

	expiry := time.Now().Add(time.Hour)
	if t, perr := time.Parse(time.RFC3339, creds.Expires); perr == nil {
		expiry = t
	}

	sc := swiftCredentials{Token: creds.Token, Endpoint: creds.Endpoint, Expires: expiry}

	b.mu.Lock()
	b.swift = sc
	b.mu.Unlock()

	return sc, nil
}

func (b *Backend) getToken(ctx context.Context) (provider.Token, error) {
	return b.coord.Source().Token(ctx)
}

func (b *Backend) refresh(ctx context.Context) (provider.Token, error) {
	return b.coord.Refresh(ctx)
}

// swiftDo issues a Swift object-storage call under the bootstrapped
// X-Auth-Token, re-bootstrapping once on a 401 the way the reauth protocol
// re-refreshes an OAuth2 token.
func (b *Backend) swiftDo(ctx context.Context, method, objectPath string, body io.Reader, headers map[string]string) (*httpengine.Response, error) {
	sc, err := b.swiftAuth(ctx)
	if err != nil {
		return nil, err
	}

	do := func(tok string) (*httpengine.Response, error) {
		req := b.engine.Create(sc.Endpoint+"/"+defaultContainer+objectPath, method, true)
		req.SetHeaderParameter("X-Auth-Token", tok)

		for k, v := range headers {
			req.SetHeaderParameter(k, v)
		}

		return req.Send(ctx, body, httpengine.NopCallback{})
	}

	resp, err := do(sc.Token)
	if err != nil {
		return nil, clouderr.Wrap(err)
	}

	if resp.HTTPCode == http.StatusUnauthorized {
		b.mu.Lock()
		b.swift = swiftCredentials{}
		b.mu.Unlock()

		sc, err = b.swiftAuth(ctx)
		if err != nil {
			return nil, err
		}

		resp, err = do(sc.Token)
		if err != nil {
			return nil, clouderr.Wrap(err)
		}
	}

	return resp, nil
}

// objectListing is one line of Swift's JSON container listing.
type objectListing struct {
	Name         string `json:"name"`
	Subdir       string `json:"subdir"`
	Bytes        int64  `json:"bytes"`
	LastModified string `json:"last_modified"`
	ContentType  string `json:"content_type"`
}

func (o objectListing) toItem(prefix string) provider.Item {
	name := o.Name
	isDir := false

	if name == "" {
		name = strings.TrimSuffix(o.Subdir, "/")
		isDir = true
	}

	it := provider.Item{
		ID:       name,
		Filename: strings.TrimPrefix(name, prefix),
		Size:     o.Bytes,
		Type:     provider.TypeFile,
	}

	if isDir {
		it.Type = provider.TypeDirectory
		it.Size = provider.SizeUnknown
	}

	if t, err := time.Parse("2006-01-02T15:04:05.000000", o.LastModified); err == nil {
		it.Timestamp = t
	}

	return it
}

// ListDirectoryPage uses Swift's pseudo-folder listing: delimiter=/ plus a
// prefix scoped to item.ID, matching how every Swift-backed tool (including
// hubiC's own clients) simulates directories over a flat object namespace.
func (b *Backend) ListDirectoryPage(item provider.Item, token string) *cloudcore.Promise[provider.ListPage] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.ListPage, error) {
		prefix := item.ID
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}

		q := url.Values{}
		q.Set("format", "json")
		q.Set("delimiter", "/")
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if token != "" {
			q.Set("marker", token)
		}

		resp, err := b.swiftDo(ctx, http.MethodGet, "?"+q.Encode(), nil, nil)
		if err != nil {
			return provider.ListPage{}, err
		}
		defer resp.Body.Close()

		if !resp.Success(nil) {
			return provider.ListPage{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		var listing []objectListing
		if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
			return provider.ListPage{}, clouderr.Parse(err.Error())
		}

		page := provider.ListPage{Items: make([]provider.Item, 0, len(listing))}

		last := ""
		for _, o := range listing {
			page.Items = append(page.Items, o.toItem(prefix))
			if o.Name != "" {
				last = o.Name
			}
		}

		if len(listing) == listChunkSize {
			page.NextToken = last
		}

		return page, nil
	})
}

const listChunkSize = 10000

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
		resp, err := b.swiftDo(ctx, http.MethodHead, "/"+id, nil, nil)
		if err != nil {
			return provider.Item{}, err
		}
		defer resp.Body.Close()

		if resp.HTTPCode == http.StatusNotFound {
			return provider.Item{}, clouderr.NotFound("hubic: object not found: " + id)
		}

		if !resp.Success(nil) {
			return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		size, _ := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64)

		parts := strings.Split(id, "/")

		return provider.Item{ID: id, Filename: parts[len(parts)-1], Size: size, Type: provider.TypeFile}, nil
	})
}

func (b *Backend) GetItem(path string) *cloudcore.Promise[provider.Item] {
	return b.GetItemData(strings.TrimPrefix(path, "/"))
}

func (b *Backend) GetFileURL(item provider.Item) *cloudcore.Promise[string] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (string, error) {
		return "", clouderr.Unimplemented("get_file_url")
	})
}

func (b *Backend) DownloadFile(item provider.Item, rng provider.Range, cb provider.DownloadCallback) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		headers := map[string]string{}
		if !(rng.Start == 0 && rng.IsFull()) {
			end := ""
			if !rng.IsFull() {
				end = strconv.FormatInt(rng.Start+rng.Size-1, 10)
			}

			headers["Range"] = fmt.Sprintf("bytes=%d-%s", rng.Start, end)
		}

		resp, err := b.swiftDo(ctx, http.MethodGet, "/"+item.ID, nil, headers)
		if err != nil {
			cb.Done(err)

			return struct{}{}, err
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
	})
}

func (b *Backend) UploadFile(parent provider.Item, filename string, cb provider.UploadCallback) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		if b.permission == provider.ReadOnly {
			return provider.Item{}, clouderr.ServiceUnavailable("hubic: provider opened read-only")
		}

		size := cb.Size()
		buf := make([]byte, size)
		if _, err := cb.PutData(buf, int(size), 0); err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		objectID := joinPath(parent.ID, filename)

		resp, err := b.swiftDo(ctx, http.MethodPut, "/"+objectID, bytes.NewReader(buf), map[string]string{
			"Content-Type": "application/octet-stream",
		})
		if err != nil {
			return provider.Item{}, err
		}
		defer resp.Body.Close()

		if !resp.Success(nil) {
			return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		return provider.Item{ID: objectID, Filename: filename, Size: size, Type: provider.TypeFile}, nil
	})
}

func joinPath(parentID, name string) string {
	if parentID == "" {
		return name
	}

	return parentID + "/" + name
}

// CreateDirectory creates Swift's conventional zero-byte
// application/directory marker object, the same trick every
// Swift-pseudo-hierarchy client (including hubiC's own) uses since the
// object store itself has no folder primitive.
func (b *Backend) CreateDirectory(parent provider.Item, name string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		if b.permission == provider.ReadOnly {
			return provider.Item{}, clouderr.ServiceUnavailable("hubic: provider opened read-only")
		}

		objectID := joinPath(parent.ID, name)

		resp, err := b.swiftDo(ctx, http.MethodPut, "/"+objectID, bytes.NewReader(nil), map[string]string{
			"Content-Type": "application/directory",
		})
		if err != nil {
			return provider.Item{}, err
		}
		defer resp.Body.Close()

		if !resp.Success(nil) {
			return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		return provider.Item{ID: objectID, Filename: name, Type: provider.TypeDirectory, Size: provider.SizeUnknown}, nil
	})
}

func (b *Backend) DeleteItem(item provider.Item) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		if b.permission == provider.ReadOnly {
			return struct{}{}, clouderr.ServiceUnavailable("hubic: provider opened read-only")
		}

		resp, err := b.swiftDo(ctx, http.MethodDelete, "/"+item.ID, nil, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		return struct{}{}, nil
	})
}

// MoveItem and RenameItem are implemented as Swift's COPY-then-DELETE,
// since Swift has no native rename/move verb.
func (b *Backend) copyThenDelete(ctx context.Context, item provider.Item, newObjectID string) (provider.Item, error) {
	if b.permission == provider.ReadOnly {
		return provider.Item{}, clouderr.ServiceUnavailable("hubic: provider opened read-only")
	}

	resp, err := b.swiftDo(ctx, "COPY", "/"+item.ID, nil, map[string]string{
		"Destination": "/" + defaultContainer + "/" + newObjectID,
	})
	if err != nil {
		return provider.Item{}, err
	}
	resp.Body.Close()

	if !resp.Success(nil) {
		return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
	}

	delResp, err := b.swiftDo(ctx, http.MethodDelete, "/"+item.ID, nil, nil)
	if err != nil {
		return provider.Item{}, err
	}
	delResp.Body.Close()

	parts := strings.Split(newObjectID, "/")

	return provider.Item{ID: newObjectID, Filename: parts[len(parts)-1], Size: item.Size, Type: item.Type}, nil
}

func (b *Backend) MoveItem(item provider.Item, newParent provider.Item) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		return b.copyThenDelete(ctx, item, joinPath(newParent.ID, item.Filename))
	})
}

func (b *Backend) RenameItem(item provider.Item, newName string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		parent := ""
		if idx := strings.LastIndex(item.ID, "/"); idx >= 0 {
			parent = item.ID[:idx]
		}

		return b.copyThenDelete(ctx, item, joinPath(parent, newName))
	})
}

// GetThumbnail is unimplemented: Swift object storage has no thumbnail
// concept, native or otherwise.
func (b *Backend) GetThumbnail(item provider.Item) *cloudcore.Promise[[]byte] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) ([]byte, error) {
		return nil, clouderr.Unimplemented("get_thumbnail")
	})
}

func (b *Backend) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.GeneralData, error) {
		resp, err := b.swiftDo(ctx, http.MethodHead, "", nil, nil)
		if err != nil {
			return provider.GeneralData{}, err
		}
		defer resp.Body.Close()

		used, _ := strconv.ParseInt(resp.Headers.Get("X-Container-Bytes-Used"), 10, 64)

		return provider.GeneralData{SpaceUsed: used, SpaceTotal: provider.SizeUnknown}, nil
	})
}
