package pcloud_test

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
	"github.com/tonimelisma/cloudfs/internal/providers/pcloud"
)

func newBackend(t *testing.T, serverURL string) provider.Provider {
	t.Helper()

	pool := cloudcore.NewThreadPool(4)
	loop := cloudcore.NewEventLoop()
	go loop.Exec(context.Background())
	t.Cleanup(loop.Quit)

	b, err := pcloud.New(provider.InitData{
		Token:      provider.Token{AccessToken: "seed-token"},
		Hints:      provider.Hints{provider.HintEndpoint: serverURL},
		Permission: provider.ReadOnly,
		Pool:       pool,
		Loop:       loop,
	})
	require.NoError(t, err)

	return b
}

func TestListDirectoryParsesFolderContents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/listfolder", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "seed-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "0", r.URL.Query().Get("folderid"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": 0,
			"metadata": map[string]any{
				"isfolder": true,
				"contents": []map[string]any{
					{"isfolder": false, "name": "a.txt", "fileid": 1, "size": 10},
					{"isfolder": true, "name": "sub", "folderid": 2},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL)

	items, err := b.ListDirectory(provider.Item{ID: "0"}).Wait()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "f1", items[0].ID)
	assert.Equal(t, "d2", items[1].ID)
	assert.Equal(t, provider.TypeDirectory, items[1].Type)
}

func TestGeneralDataReportsQuota(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 0, "quota": 1000, "usedquota": 200, "email": "a@b.com"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := newBackend(t, srv.URL)

	gd, err := b.GeneralData().Wait()
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", gd.Username)
	assert.Equal(t, int64(200), gd.SpaceUsed)
}

func TestCreateDirectoryIsUnimplemented(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unimplemented create_directory must not issue any HTTP request")
	}))
	defer srv.Close()

	b := newBackend(t, srv.URL)

	_, err := b.CreateDirectory(provider.Item{ID: "0"}, "new").Wait()
	require.Error(t, err)
	assert.True(t, clouderr.Is(err, clouderr.KindUnimplemented))
}
