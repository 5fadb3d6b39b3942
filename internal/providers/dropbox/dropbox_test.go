package dropbox_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/providers/dropbox"
)

func newBackend(t *testing.T, serverURL string, perm provider.Permission) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := dropbox.New(provider.InitData{
		Token:      provider.Token{AccessToken: "seed-token"},
		Hints:      provider.Hints{provider.HintEndpoint: serverURL},
		Permission: perm,
		Pool:       pool,
		Loop:       loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectoryFollowsCursor(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/files/list_folder", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer seed-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{{".tag": "file", "name": "a.txt", "path_lower": "/a.txt", "size": 3}},
			"cursor":  "cursor-1",
			"has_more": true,
		})
	})
	mux.HandleFunc("/files/list_folder/continue", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cursor-1", body["cursor"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"entries":  []map[string]any{{".tag": "folder", "name": "sub", "path_lower": "/sub"}},
			"has_more": false,
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	items, err := b.ListDirectory(provider.Item{ID: ""}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.txt", items[0].Filename)
	assert.Equal(t, provider.TypeFile, items[0].Type)
	assert.Equal(t, "sub", items[1].Filename)
	assert.Equal(t, provider.TypeDirectory, items[1].Type)
}

func TestUploadFileSimpleSendsAPIArgHeader(t *testing.T) {
	mux := http.NewServeMux()

	mux.HandleFunc("/files/upload", func(w http.ResponseWriter, r *http.Request) {
		arg := r.Header.Get("Dropbox-API-Arg")
		assert.Contains(t, arg, `"path":"/new.txt"`)

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))

		_ = json.NewEncoder(w).Encode(map[string]any{".tag": "file", "name": "new.txt", "path_lower": "/new.txt", "size": 5})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	item, err := b.UploadFile(provider.Item{ID: ""}, "new.txt", &staticUpload{data: []byte("hello")}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "new.txt", item.Filename)
	assert.Equal(t, int64(5), item.Size)
}

func TestCreateDirectoryRejectedWhenReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("read-only provider must not issue create_folder_v2")
	}))
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadOnly)

	_, err := b.CreateDirectory(provider.Item{ID: ""}, "sub").Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindServiceUnavailable))
}

func TestMoveItemBuildsToPath(t *testing.T) {
	var gotFrom, gotTo string

	mux := http.NewServeMux()
	mux.HandleFunc("/files/move_v2", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotFrom = body["from_path"]
		gotTo = body["to_path"]

		_ = json.NewEncoder(w).Encode(map[string]any{
			"metadata": map[string]any{".tag": "file", "name": "a.txt", "path_lower": "/sub/a.txt", "size": 1},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	_, err := b.MoveItem(provider.Item{ID: "/a.txt", Filename: "a.txt"}, provider.Item{ID: "/sub"}).Wait()
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", gotFrom)
	assert.Equal(t, "/sub/a.txt", gotTo)
}

func TestGeneralDataCombinesTwoCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/get_space_usage", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"used":       100,
			"allocation": map[string]any{"allocated": 1000},
		})
	})
	mux.HandleFunc("/users/get_current_account", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"name": map[string]any{"display_name": "Jane"}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	data, err := b.GeneralData().Wait()
	require.NoError(t, err)
	assert.Equal(t, "Jane", data.Username)
	assert.Equal(t, int64(100), data.SpaceUsed)
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
