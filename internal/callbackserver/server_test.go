package callbackserver_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudfs/internal/callbackserver"
)

func TestServerRoutesBySegmentAndState(t *testing.T) {
	srv := callbackserver.New("127.0.0.1:0", nil)
	require.True(t, srv.Available())

	defer func() { _ = srv.Shutdown(context.Background()) }()

	gotSeg := make(chan struct{}, 1)
	gotState := make(chan struct{}, 1)

	srv.Register("google", "state-google", callbackserver.TypeAuthorization,
		callbackserver.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSeg <- struct{}{}
			w.WriteHeader(http.StatusOK)
		}))

	srv.Register("onedrive", "state-onedrive", callbackserver.TypeAuthorization,
		callbackserver.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotState <- struct{}{}
			w.WriteHeader(http.StatusOK)
		}))

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/google")
	require.NoError(t, err)
	resp.Body.Close()

	resp2, err := http.Get(base + "/anything?state=state-onedrive")
	require.NoError(t, err)
	resp2.Body.Close()

	select {
	case <-gotSeg:
	case <-time.After(time.Second):
		t.Fatal("segment routing did not fire")
	}

	select {
	case <-gotState:
	case <-time.After(time.Second):
		t.Fatal("state routing did not fire")
	}
}

func TestServerUnavailableOnBadAddr(t *testing.T) {
	srv := callbackserver.New("not-an-address:::", nil)
	assert.False(t, srv.Available())
	assert.Empty(t, srv.Addr())
}
