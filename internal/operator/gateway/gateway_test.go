package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"gesture-bridge/internal/media"
)

func newTestGateway(t *testing.T, trust []string) *Gateway {
	t.Helper()
	g, err := New("127.0.0.1:0", trust, NewHub())
	require.NoError(t, err)
	return g
}

func dialFramepipe(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + FramepipePath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func encodedFrame(seq uint64) []byte {
	return media.EncodeFrame(&media.Frame{
		Width:   4,
		Height:  4,
		Format:  media.FormatJPEG,
		Seq:     seq,
		Payload: []byte{1, 2, 3},
	})
}

func TestTrustedLoopbackOnly(t *testing.T) {
	g := newTestGateway(t, nil)

	require.True(t, g.Trusted("127.0.0.1:1234"))
	require.True(t, g.Trusted("[::1]:1234"))
	require.False(t, g.Trusted("203.0.113.9:1234"))
	require.False(t, g.Trusted("not-an-address"))
}

func TestTrustedConfiguredSet(t *testing.T) {
	g := newTestGateway(t, []string{"10.0.0.0/8", "192.168.1.7"})

	require.True(t, g.Trusted("10.1.2.3:5000"))
	require.True(t, g.Trusted("192.168.1.7:5000"))
	require.False(t, g.Trusted("192.168.1.8:5000"))
}

func TestTrustSetRejectsGarbage(t *testing.T) {
	_, err := New("127.0.0.1:0", []string{"not-an-ip"}, NewHub())
	require.Error(t, err)
}

func TestUntrustedOriginRejectedWithoutExchange(t *testing.T) {
	g := newTestGateway(t, nil)

	req := httptest.NewRequest(http.MethodGet, FramepipePath, nil)
	req.RemoteAddr = "203.0.113.9:44444"
	rec := httptest.NewRecorder()

	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, uint64(1), g.Stats().AuthRejects)
	require.False(t, g.hub.ProducerConnected(), "no producer seat for rejected origins")
}

func TestFramepipeRepublishesAndDropsOutOfOrder(t *testing.T) {
	g := newTestGateway(t, nil)
	slot := g.hub.Subscribe("session-a")

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	conn := dialFramepipe(t, srv)
	defer conn.Close()

	// Sequence 1,2,4,3: 3 arrives after 4 and must be dropped.
	for _, seq := range []uint64{1, 2, 4, 3} {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, encodedFrame(seq)))
	}

	require.Eventually(t, func() bool {
		return g.Stats().FramesServed == 3 && g.Stats().SeqDrops == 1
	}, 2*time.Second, 10*time.Millisecond)

	frame, ok := slot.Take()
	require.True(t, ok)
	require.Equal(t, uint64(4), frame.Seq, "subscriber observes the most recent accepted frame")
	require.False(t, frame.ReceivedAt.IsZero())
}

func TestFramepipeDropsUndecodableRecords(t *testing.T) {
	g := newTestGateway(t, nil)

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	conn := dialFramepipe(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("status ping")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, encodedFrame(1)))

	require.Eventually(t, func() bool {
		stats := g.Stats()
		return stats.DecodeDrops == 1 && stats.FramesServed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFramepipeSingleProducer(t *testing.T) {
	g := newTestGateway(t, nil)

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	first := dialFramepipe(t, srv)
	defer first.Close()

	require.Eventually(t, func() bool {
		return g.hub.ProducerConnected()
	}, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + FramepipePath
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, uint64(1), g.Stats().ProducerBusy)
}

func TestFramepipeDisconnectReleasesProducer(t *testing.T) {
	g := newTestGateway(t, nil)
	slot := g.hub.Subscribe("session-a")

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	conn := dialFramepipe(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, encodedFrame(1)))
	require.Eventually(t, func() bool {
		return g.Stats().FramesServed == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return !g.hub.ProducerConnected()
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := slot.Take()
	require.False(t, ok, "subscribers must fall back to synthetic after producer disconnect")
}
