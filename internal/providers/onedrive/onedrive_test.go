package onedrive_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/providers/onedrive"
	"github.com/tonimelisma/cloudfs/pkg/quickxorhash"
)

func newBackend(t *testing.T, serverURL string, perm provider.Permission) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := onedrive.New(provider.InitData{
		Token:      provider.Token{AccessToken: "test-token"},
		Hints:      provider.Hints{provider.HintEndpoint: serverURL},
		Permission: perm,
		Pool:       pool,
		Loop:       loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectoryDrainsAllPages(t *testing.T) {
	var calls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/root/children", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "1", "name": "a.txt", "size": 10, "lastModifiedDateTime": "2024-01-01T00:00:00Z"},
			},
			"@odata.nextLink": "http://" + r.Host + "/page2",
		})
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "2", "name": "b", "folder": map[string]any{"childCount": 0}},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	items, err := b.ListDirectory(provider.Item{ID: "root"}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.txt", items[0].Filename)
	assert.Equal(t, provider.TypeFile, items[0].Type)
	assert.Equal(t, "b", items[1].Filename)
	assert.Equal(t, provider.TypeDirectory, items[1].Type)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetItemByPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/root:/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "abc", "name": "report.pdf", "size": 99,
			"file": map[string]any{"mimeType": "application/pdf"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	item, err := b.GetItem("docs/report.pdf").Wait()
	require.NoError(t, err)
	assert.Equal(t, "abc", item.ID)
	assert.Equal(t, int64(99), item.Size)
	assert.Equal(t, provider.TypeFile, item.Type)
}

func TestUploadFileSimple(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/root:/small.txt:/content", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello", string(body))

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "new-id", "name": "small.txt", "size": 5})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	item, err := b.UploadFile(provider.Item{ID: "root"}, "small.txt", &staticUpload{data: []byte("hello")}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "new-id", item.ID)
}

func TestUploadFileSimpleVerifiesContentHash(t *testing.T) {
	h := quickxorhash.New()
	_, _ = h.Write([]byte("hello"))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/root:/small.txt:/content", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "new-id", "name": "small.txt", "size": 5,
			"file": map[string]any{"mimeType": "text/plain", "hashes": map[string]any{"quickXorHash": digest}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	item, err := b.UploadFile(provider.Item{ID: "root"}, "small.txt", &staticUpload{data: []byte("hello")}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "new-id", item.ID)
}

func TestUploadFileSimpleRejectsHashMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/root:/small.txt:/content", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "new-id", "name": "small.txt", "size": 5,
			"file": map[string]any{"mimeType": "text/plain", "hashes": map[string]any{"quickXorHash": base64.StdEncoding.EncodeToString([]byte("not the right digest!"))}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	_, err := b.UploadFile(provider.Item{ID: "root"}, "small.txt", &staticUpload{data: []byte("hello")}).Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestUploadFileChunked(t *testing.T) {
	const chunkSize = 10 * 1024 * 1024
	data := make([]byte, chunkSize+100)

	var uploadPath string

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/root:/big.bin:/createUploadSession", func(w http.ResponseWriter, r *http.Request) {
		uploadPath = "/upload-session"
		_ = json.NewEncoder(w).Encode(map[string]any{"uploadUrl": "http://" + r.Host + uploadPath})
	})
	var chunkCalls int32
	mux.HandleFunc("/upload-session", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&chunkCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusAccepted)

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "big-id", "name": "big.bin", "size": len(data)})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	item, err := b.UploadFile(provider.Item{ID: "root"}, "big.bin", &staticUpload{data: data}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "big-id", item.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&chunkCalls))
}

func TestDownloadFileSendsRangeHeader(t *testing.T) {
	var gotRange string

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/file1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "file1", "name": "f", "size": 100,
			"@microsoft.graph.downloadUrl": "http://" + r.Host + "/raw",
		})
	})
	mux.HandleFunc("/raw", func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		_, _ = w.Write([]byte("partial-data"))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	cb := &collectingDownload{}
	_, err := b.DownloadFile(provider.Item{ID: "file1", Size: 100}, provider.Range{Start: 10, Size: 20}, cb).Wait()
	require.NoError(t, err)
	assert.Equal(t, "bytes=10-29", gotRange)
	assert.Equal(t, "partial-data", string(cb.data))
	require.NoError(t, cb.doneErr)
}

func TestMoveAndRenameItem(t *testing.T) {
	var lastBody map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/item1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&lastBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "item1", "name": "renamed"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	_, err := b.RenameItem(provider.Item{ID: "item1"}, "renamed").Wait()
	require.NoError(t, err)
	assert.Equal(t, "renamed", lastBody["name"])

	_, err = b.MoveItem(provider.Item{ID: "item1"}, provider.Item{ID: "newparent"}).Wait()
	require.NoError(t, err)
}

func TestDeleteItemRejectedWhenReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("read-only provider must not issue the delete request")
	}))
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadOnly)

	_, err := b.DeleteItem(provider.Item{ID: "item1"}).Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindServiceUnavailable))
}

func TestDeleteItemSucceedsWhenReadWrite(t *testing.T) {
	var called bool

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/item1", func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	_, err := b.DeleteItem(provider.Item{ID: "item1"}).Wait()
	require.NoError(t, err)
	assert.True(t, called)
}

func TestGeneralDataReportsQuota(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"owner": map[string]any{"user": map[string]any{"displayName": "Ada Lovelace"}},
			"quota": map[string]any{"used": 500, "total": 1000},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	data, err := b.GeneralData().Wait()
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", data.Username)
	assert.Equal(t, int64(500), data.SpaceUsed)
	assert.Equal(t, int64(1000), data.SpaceTotal)
}

func TestGetThumbnailReturnsUnimplementedWhenAbsent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/drives/me/items/item1/thumbnails", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	_, err := b.GetThumbnail(provider.Item{ID: "item1"}).Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindUnimplemented))
}

type staticUpload struct {
	data []byte
}

func (s *staticUpload) Size() int64 { return int64(len(s.data)) }

func (s *staticUpload) PutData(buf []byte, maxlen int, offset int64) (int, error) {
	n := copy(buf[:maxlen], s.data[offset:])

	return n, nil
}

type collectingDownload struct {
	data    []byte
	doneErr error
}

func (c *collectingDownload) ReceivedData(chunk []byte) { c.data = append(c.data, chunk...) }
func (c *collectingDownload) Progress(int64, int64)     {}
func (c *collectingDownload) Done(err error)            { c.doneErr = err }
