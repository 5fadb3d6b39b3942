package googledrive_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/providers/googledrive"
)

func newBackend(t *testing.T, serverURL string, perm provider.Permission) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := googledrive.New(provider.InitData{
		Token:      provider.Token{AccessToken: "seed-token"},
		Hints:      provider.Hints{provider.HintEndpoint: serverURL},
		Permission: perm,
		Pool:       pool,
		Loop:       loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectoryFollowsNextPageToken(t *testing.T) {
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer seed-token", r.Header.Get("Authorization"))

		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"files":         []map[string]any{{"id": "1", "name": "a.txt", "mimeType": "text/plain", "size": "4"}},
				"nextPageToken": "page-2",
			})

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]any{{"id": "2", "name": "sub", "mimeType": "application/vnd.google-apps.folder"}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	items, err := b.ListDirectory(provider.Item{ID: "root"}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, provider.TypeDirectory, items[1].Type)
}

func TestUploadFileUsesMultipartWithFixedBoundary(t *testing.T) {
	var contentType, uploadType string
	var body []byte

	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		uploadType = r.URL.Query().Get("uploadType")
		body, _ = io.ReadAll(r.Body)

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "99", "name": "a.bin", "mimeType": "application/octet-stream", "size": "3"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	item, err := b.UploadFile(provider.Item{ID: "root"}, "a.bin", &staticUpload{data: []byte("abc")}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "a.bin", item.Filename)
	assert.Equal(t, "multipart", uploadType)
	assert.Equal(t, "multipart/related; boundary=fWoDm9QNn3v3Bq3bScUX", contentType)
	assert.Contains(t, string(body), "--fWoDm9QNn3v3Bq3bScUX\r\n")
	assert.Contains(t, string(body), `"name":"a.bin"`)
	assert.Contains(t, string(body), "abc")
	assert.Contains(t, string(body), "--fWoDm9QNn3v3Bq3bScUX--")
}

type staticUpload struct {
	data []byte
}

func (s *staticUpload) Size() int64 { return int64(len(s.data)) }

func (s *staticUpload) PutData(buf []byte, maxlen int, offset int64) (int, error) {
	n := copy(buf[:maxlen], s.data[offset:])

	return n, nil
}
