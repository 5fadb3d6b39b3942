package box_test

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
	"github.com/tonimelisma/cloudfs/internal/providers/box"
)

func newBackend(t *testing.T, serverURL string, perm provider.Permission) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := box.New(provider.InitData{
		Token:      provider.Token{AccessToken: "seed-token"},
		Hints:      provider.Hints{provider.HintEndpoint: serverURL},
		Permission: perm,
		Pool:       pool,
		Loop:       loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectoryDrainsOffsetPagination(t *testing.T) {
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/folders/0/items", func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Bearer seed-token", r.Header.Get("Authorization"))

		if r.URL.Query().Get("offset") == "0" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"total_count": 2,
				"entries":     []map[string]any{{"type": "file", "id": "1", "name": "a.txt", "size": 1}},
			})

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_count": 2,
			"entries":     []map[string]any{{"type": "folder", "id": "2", "name": "sub"}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	items, err := b.ListDirectory(provider.Item{ID: "0"}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "sub", items[1].Filename)
	assert.Equal(t, provider.TypeDirectory, items[1].Type)
}

func TestUploadFileMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/content", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Contains(t, r.MultipartForm.Value["attributes"][0], `"name":"new.txt"`)

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{{"type": "file", "id": "99", "name": "new.txt", "size": 3}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	item, err := b.UploadFile(provider.Item{ID: "0"}, "new.txt", &staticUpload{data: []byte("abc")}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "new.txt", item.Filename)
	assert.Equal(t, int64(3), item.Size)
}

func TestDeleteItemRejectedWhenReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("read-only provider must not issue DELETE")
	}))
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadOnly)

	_, err := b.DeleteItem(provider.Item{ID: "1"}).Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindServiceUnavailable))
}

func TestGeneralDataReportsQuota(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "Jane", "space_amount": 1000, "space_used": 250})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	data, err := b.GeneralData().Wait()
	require.NoError(t, err)
	assert.Equal(t, "Jane", data.Username)
	assert.Equal(t, int64(250), data.SpaceUsed)
	assert.Equal(t, int64(1000), data.SpaceTotal)
}

type staticUpload struct {
	data []byte
}

func (s *staticUpload) Size() int64 { return int64(len(s.data)) }

func (s *staticUpload) PutData(buf []byte, maxlen int, offset int64) (int, error) {
	n := copy(buf[:maxlen], s.data[offset:])

	return n, nil
}
