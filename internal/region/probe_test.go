package region

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPProberAgainstResponder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewResponder("127.0.0.1:0")
	require.NoError(t, r.Listen(ctx))
	go r.Serve(ctx)

	prober := &UDPProber{}
	for i := 0; i < 3; i++ {
		pctx, pcancel := context.WithTimeout(ctx, time.Second)
		rtt, err := prober.Probe(pctx, r.Addr().String())
		pcancel()
		require.NoError(t, err)
		assert.Less(t, rtt, time.Second)
	}
}

func TestUDPProberTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A bound socket that never answers.
	silent := NewResponder("127.0.0.1:0")
	require.NoError(t, silent.Listen(ctx))
	defer silent.Stop()

	pctx, pcancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer pcancel()
	_, err := (&UDPProber{}).Probe(pctx, silent.Addr().String())
	assert.Error(t, err)
}

func TestResponderServeRequiresListen(t *testing.T) {
	assert.Error(t, NewResponder("127.0.0.1:0").Serve(context.Background()))
	assert.NoError(t, NewResponder("127.0.0.1:0").Stop())
}

func TestWSProberReusesConnection(t *testing.T) {
	upgrades := make(chan struct{}, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades <- struct{}{}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	prober := &WSProber{}
	defer prober.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		rtt, err := prober.Probe(ctx, addr)
		cancel()
		require.NoError(t, err)
		assert.Less(t, rtt, time.Second)
	}
	assert.Len(t, upgrades, 1)
}

func TestWSProberDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := (&WSProber{}).Probe(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}
