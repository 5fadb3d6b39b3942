// Package webdav implements provider.Provider against any RFC 4918 WebDAV
// server, using PROPFIND/MKCOL/MOVE/DELETE/PUT/GET the way a browser-facing
// WebDAV client would, behind the same uniform Provider interface as the
// OAuth2-backed services. The multistatus struct tags follow the
// "DAV: localname" xml.Name convention used server-side by
// ocdavsvc/propfind.go's responseXML.
package webdav

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudauth"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/httpengine"
	"github.com/tonimelisma/cloudfs/internal/provider"
)

// Name is the registry key and the Provider.Name() value.
const Name = "webdav"

func init() {
	provider.Register(Name, New)
}

// credential is the structured form StaticCredential's base64(JSON) blob
// decodes to: a basic-auth pair plus the server's root collection URL.
type credential struct {
	Username string
	Password string
	Endpoint string
}

// Backend is the webdav Provider implementation.
type Backend struct {
	engine httpengine.Engine
	src    *cloudauth.StaticCredential
	hints  provider.Hints

	permission provider.Permission
	pool       *cloudcore.ThreadPool
	loop       *cloudcore.EventLoop
	endpoint   string
}

// New builds a Backend from InitData. The server endpoint and basic-auth
// pair come from Hints on first login, or from a previously persisted
// Token.RefreshToken blob on subsequent opens.
func New(data provider.InitData) (provider.Provider, error) {
	var cred credential

	if data.Token.RefreshToken != "" {
		if err := cloudauth.DecodeStaticBlob(data.Token.RefreshToken, &cred); err != nil {
			return nil, err
		}
	} else {
		cred = credential{
			Username: data.Hints.Get(provider.HintClientID),
			Password: data.Hints.Get(provider.HintClientSecret),
			Endpoint: data.Hints.Get(provider.HintEndpoint),
		}
	}

	if cred.Endpoint == "" {
		return nil, clouderr.Failure("webdav: endpoint hint is required")
	}

	src, err := cloudauth.NewStaticCredential(cred, cred.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	return &Backend{
		engine:     httpengine.NewDefault(data.Logger),
		src:        src,
		hints:      data.Hints,
		permission: data.Permission,
		pool:       data.Pool,
		loop:       data.Loop,
		endpoint:   strings.TrimSuffix(cred.Endpoint, "/"),
	}, nil
}

func (b *Backend) Name() string                   { return Name }
func (b *Backend) Endpoint() string                { return b.endpoint }
func (b *Backend) RootDirectory() provider.Item    { return provider.Item{ID: "/", Type: provider.TypeDirectory} }
func (b *Backend) AuthorizeLibraryURL() string      { return b.src.AuthorizeLibraryURL() }
func (b *Backend) Hints() provider.Hints            { return b.hints }
func (b *Backend) Permission() provider.Permission  { return b.permission }
func (b *Backend) Token() provider.Token {
	tok, _ := b.src.Token(context.Background())

	return tok
}

func (b *Backend) ExchangeCode(code string) *cloudcore.Promise[provider.Token] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Token, error) {
		return b.src.ExchangeCode(ctx, code)
	})
}

func (b *Backend) credential(ctx context.Context) (credential, error) {
	tok, err := b.src.Token(ctx)
	if err != nil {
		return credential{}, err
	}

	var cred credential
	if err := cloudauth.DecodeStaticBlob(tok.RefreshToken, &cred); err != nil {
		return credential{}, err
	}

	return cred, nil
}

func (b *Backend) authHeader(ctx context.Context) (string, error) {
	cred, err := b.credential(ctx)
	if err != nil {
		return "", err
	}

	plain := cred.Username + ":" + cred.Password

	return "Basic " + base64.StdEncoding.EncodeToString([]byte(plain)), nil
}

// --- PROPFIND multistatus wire shapes, RFC 4918 §14 ---

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []davResp  `xml:"DAV: response"`
}

type davResp struct {
	Href     string     `xml:"DAV: href"`
	Propstat []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	DisplayName  string     `xml:"DAV: displayname"`
	ContentLen   int64      `xml:"DAV: getcontentlength"`
	LastModified string     `xml:"DAV: getlastmodified"`
	ContentType  string     `xml:"DAV: getcontenttype"`
	ResourceType resourceTy `xml:"DAV: resourcetype"`
}

type resourceTy struct {
	Collection *struct{} `xml:"DAV: collection"`
}

func (d davResp) toItem(root string) provider.Item {
	path, _ := url.PathUnescape(d.Href)
	path = strings.TrimSuffix(path, "/")

	it := provider.Item{
		ID:   path,
		Type: provider.TypeFile,
		Size: provider.SizeUnknown,
	}

	if len(d.Propstat) > 0 {
		p := d.Propstat[0].Prop
		it.Filename = p.DisplayName
		if it.Filename == "" {
			it.Filename = path[strings.LastIndex(path, "/")+1:]
		}

		if p.ResourceType.Collection != nil {
			it.Type = provider.TypeDirectory
		} else {
			it.Size = p.ContentLen
			if strings.HasPrefix(p.ContentType, "image/") {
				it.Type = provider.TypeImage
			} else if strings.HasPrefix(p.ContentType, "audio/") {
				it.Type = provider.TypeAudio
			} else if strings.HasPrefix(p.ContentType, "video/") {
				it.Type = provider.TypeVideo
			}
		}

		if t, err := time.Parse(time.RFC1123, p.LastModified); err == nil {
			it.Timestamp = t
		}
	}

	return it
}

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:getcontenttype/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`

func (b *Backend) do(ctx context.Context, method, path string, headers map[string]string, body io.Reader) (*httpengine.Response, error) {
	auth, err := b.authHeader(ctx)
	if err != nil {
		return nil, err
	}

	req := b.engine.Create(b.endpoint+path, method, true)
	req.SetHeaderParameter("Authorization", auth)

	for k, v := range headers {
		req.SetHeaderParameter(k, v)
	}

	resp, err := req.Send(ctx, body, httpengine.NopCallback{})
	if err != nil {
		return nil, clouderr.Wrap(err)
	}

	return resp, nil
}

func (b *Backend) ListDirectoryPage(item provider.Item, token string) *cloudcore.Promise[provider.ListPage] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.ListPage, error) {
		if token != "" {
			return provider.ListPage{}, nil
		}

		resp, err := b.do(ctx, "PROPFIND", item.ID, map[string]string{
			"Depth":        "1",
			"Content-Type": "application/xml",
		}, bytes.NewBufferString(propfindBody))
		if err != nil {
			return provider.ListPage{}, err
		}
		defer resp.Body.Close()

		if resp.HTTPCode != http.StatusMultiStatus {
			return provider.ListPage{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		var ms multistatus
		if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
			return provider.ListPage{}, clouderr.Parse(fmt.Sprintf("webdav: decoding multistatus: %v", err))
		}

		page := provider.ListPage{Items: make([]provider.Item, 0, len(ms.Responses))}
		for _, r := range ms.Responses {
			it := r.toItem(b.endpoint)
			if it.ID == strings.TrimSuffix(item.ID, "/") {
				continue
			}

			page.Items = append(page.Items, it)
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
		resp, err := b.do(ctx, "PROPFIND", id, map[string]string{
			"Depth":        "0",
			"Content-Type": "application/xml",
		}, bytes.NewBufferString(propfindBody))
		if err != nil {
			return provider.Item{}, err
		}
		defer resp.Body.Close()

		if resp.HTTPCode != http.StatusMultiStatus {
			return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		var ms multistatus
		if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
			return provider.Item{}, clouderr.Parse(err.Error())
		}

		if len(ms.Responses) == 0 {
			return provider.Item{}, clouderr.NotFound("webdav: no such item")
		}

		return ms.Responses[0].toItem(b.endpoint), nil
	})
}

func (b *Backend) GetItem(path string) *cloudcore.Promise[provider.Item] {
	return b.GetItemData(path)
}

func (b *Backend) GetFileURL(item provider.Item) *cloudcore.Promise[string] {
	return cloudcore.Async(b.pool, b.loop, func(context.Context) (string, error) {
		return b.endpoint + item.ID, nil
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

		resp, err := b.do(ctx, http.MethodGet, item.ID, headers, nil)
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
				derr := clouderr.Wrap(rerr)
				cb.Done(derr)

				return struct{}{}, derr
			}
		}

		cb.Done(nil)

		return struct{}{}, nil
	})
}

func (b *Backend) UploadFile(parent provider.Item, filename string, cb provider.UploadCallback) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		if b.permission == provider.ReadOnly {
			return provider.Item{}, clouderr.ServiceUnavailable("webdav: provider opened read-only")
		}

		id := strings.TrimSuffix(parent.ID, "/") + "/" + filename

		size := cb.Size()
		buf := make([]byte, size)

		if _, err := cb.PutData(buf, int(size), 0); err != nil {
			return provider.Item{}, clouderr.Wrap(err)
		}

		resp, err := b.do(ctx, http.MethodPut, id, nil, bytes.NewReader(buf))
		if err != nil {
			return provider.Item{}, err
		}
		defer resp.Body.Close()

		if !resp.Success(nil) {
			return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		return b.GetItemData(id).Wait()
	})
}

func (b *Backend) CreateDirectory(parent provider.Item, name string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		if b.permission == provider.ReadOnly {
			return provider.Item{}, clouderr.ServiceUnavailable("webdav: provider opened read-only")
		}

		id := strings.TrimSuffix(parent.ID, "/") + "/" + name

		resp, err := b.do(ctx, "MKCOL", id, nil, nil)
		if err != nil {
			return provider.Item{}, err
		}
		defer resp.Body.Close()

		if !resp.Success(nil) {
			return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		return b.GetItemData(id).Wait()
	})
}

func (b *Backend) DeleteItem(item provider.Item) *cloudcore.Promise[struct{}] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (struct{}, error) {
		if b.permission == provider.ReadOnly {
			return struct{}{}, clouderr.ServiceUnavailable("webdav: provider opened read-only")
		}

		resp, err := b.do(ctx, http.MethodDelete, item.ID, nil, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if !resp.Success(nil) {
			return struct{}{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
		}

		return struct{}{}, nil
	})
}

func (b *Backend) move(ctx context.Context, srcID, dstID string) (provider.Item, error) {
	if b.permission == provider.ReadOnly {
		return provider.Item{}, clouderr.ServiceUnavailable("webdav: provider opened read-only")
	}

	resp, err := b.do(ctx, "MOVE", srcID, map[string]string{
		"Destination": b.endpoint + dstID,
		"Overwrite":   "F",
	}, nil)
	if err != nil {
		return provider.Item{}, err
	}
	defer resp.Body.Close()

	if !resp.Success(nil) {
		return provider.Item{}, clouderr.HTTP(resp.HTTPCode, string(resp.ErrorBody))
	}

	return b.GetItemData(dstID).Wait()
}

func (b *Backend) MoveItem(item provider.Item, newParent provider.Item) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		name := item.ID[strings.LastIndex(item.ID, "/")+1:]
		dst := strings.TrimSuffix(newParent.ID, "/") + "/" + name

		return b.move(ctx, item.ID, dst)
	})
}

func (b *Backend) RenameItem(item provider.Item, newName string) *cloudcore.Promise[provider.Item] {
	return cloudcore.Async(b.pool, b.loop, func(ctx context.Context) (provider.Item, error) {
		parent := item.ID[:strings.LastIndex(item.ID, "/")]
		dst := parent + "/" + newName

		return b.move(ctx, item.ID, dst)
	})
}

func (b *Backend) GetThumbnail(provider.Item) *cloudcore.Promise[[]byte] {
	p, _, reject := cloudcore.NewPromise[[]byte](b.loop)
	reject(clouderr.Unimplemented("get_thumbnail"))

	return p
}

func (b *Backend) GeneralData() *cloudcore.Promise[provider.GeneralData] {
	p, _, reject := cloudcore.NewPromise[provider.GeneralData](b.loop)
	reject(clouderr.Unimplemented("general_data"))

	return p
}
