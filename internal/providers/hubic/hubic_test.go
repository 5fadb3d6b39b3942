package hubic_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/providers/hubic"
)

func newBackend(t *testing.T, serverURL string, perm provider.Permission) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := hubic.New(provider.InitData{
		Token:      provider.Token{AccessToken: "seed-token"},
		Hints:      provider.Hints{provider.HintEndpoint: serverURL},
		Permission: perm,
		Pool:       pool,
		Loop:       loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectoryBootstrapsSwiftCredentials(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/account/credentials", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer seed-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":    "swift-token",
			"endpoint": fmt.Sprintf("http://%s/swift", r.Host),
			"expires":  "2099-01-01T00:00:00Z",
		})
	})
	mux.HandleFunc("/swift/default", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "swift-token", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "/", r.URL.Query().Get("delimiter"))

		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"name": "photo.jpg", "bytes": 10, "content_type": "image/jpeg", "last_modified": "2024-01-01T00:00:00.000000"},
			{"subdir": "sub/"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	items, err := b.ListDirectory(provider.Item{ID: ""}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "photo.jpg", items[0].Filename)
	assert.Equal(t, provider.TypeDirectory, items[1].Type)
}

func TestUploadRejectedWhenReadOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/account/credentials", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "t", "endpoint": "http://example.invalid/swift", "expires": "2099-01-01T00:00:00Z"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadOnly)

	_, err := b.UploadFile(provider.Item{ID: ""}, "x.txt", &staticUpload{data: []byte("x")}).Wait()
	require.Error(t, err)
}

type staticUpload struct {
	data []byte
}

func (s *staticUpload) Size() int64 { return int64(len(s.data)) }

func (s *staticUpload) PutData(buf []byte, maxlen int, offset int64) (int, error) {
	n := copy(buf[:maxlen], s.data[offset:])

	return n, nil
}
