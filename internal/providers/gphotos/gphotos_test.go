package gphotos_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/providers/gphotos"
)

func newBackend(t *testing.T, serverURL string) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := gphotos.New(provider.InitData{
		Token: provider.Token{AccessToken: "seed-token"},
		Hints: provider.Hints{provider.HintEndpoint: serverURL},
		Pool:  pool,
		Loop:  loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectoryFollowsNextPageToken(t *testing.T) {
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/mediaItems", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer seed-token", r.Header.Get("Authorization"))
		calls++

		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"mediaItems":    []map[string]any{{"id": "1", "filename": "a.jpg", "mimeType": "image/jpeg"}},
				"nextPageToken": "p2",
			})

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"mediaItems": []map[string]any{{"id": "2", "filename": "b.mp4", "mimeType": "video/mp4"}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL)

	items, err := b.ListDirectory(provider.Item{ID: ""}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, provider.TypeImage, items[0].Type)
	assert.Equal(t, provider.TypeVideo, items[1].Type)
}

func TestUploadFileIsUnimplemented(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unimplemented upload_file must not issue any HTTP request")
	}))
	defer srv.Close()

	b := newBackend(t, srv.URL)

	_, err := b.UploadFile(provider.Item{}, "x.jpg", nil).Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindUnimplemented))
}
