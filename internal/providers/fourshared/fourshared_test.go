package fourshared_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/clouderr"
	"github.com/tonimelisma/cloudfs/internal/cloudcore"
	"github.com/tonimelisma/cloudfs/internal/provider"
	"github.com/tonimelisma/cloudfs/internal/providers/fourshared"
)

func newBackend(t *testing.T, serverURL string, perm provider.Permission) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := fourshared.New(provider.InitData{
		Hints: provider.Hints{
			provider.HintEndpoint:     serverURL,
			provider.HintClientID:     "consumer-key",
			provider.HintClientSecret: "consumer-secret",
		},
		Permission: perm,
		Pool:       pool,
		Loop:       loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectorySignsRequestWithOAuth1Header(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/0/children", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "OAuth "))
		assert.Contains(t, auth, `oauth_consumer_key="consumer-key"`)
		assert.Contains(t, auth, `oauth_signature_method="HMAC-SHA1"`)
		assert.Contains(t, auth, "oauth_signature=")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"children": []map[string]any{{"id": "1", "name": "a.txt", "size": 5}},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	items, err := b.ListDirectory(provider.Item{ID: "0"}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.txt", items[0].Filename)
}

func TestUploadFileIsUnimplemented(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unimplemented upload_file must not issue any HTTP request")
	}))
	defer srv.Close()

	b := newBackend(t, srv.URL, provider.ReadWrite)

	_, err := b.UploadFile(provider.Item{ID: "0"}, "x.txt", &staticUpload{data: []byte("x")}).Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindUnimplemented))
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

type staticUpload struct {
	data []byte
}

func (s *staticUpload) Size() int64 { return int64(len(s.data)) }

func (s *staticUpload) PutData(buf []byte, maxlen int, offset int64) (int, error) {
	n := copy(buf[:maxlen], s.data[offset:])

	return n, nil
}
