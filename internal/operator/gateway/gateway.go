package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/randutil"
	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/media"
)

const (
	FramepipePath = "/framepipe"

	maxMessageSize  = 64 << 20
	connIDLength    = 8
	connIDRunes     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	shutdownTimeout = 3 * time.Second
)

// Stats is a snapshot of the gateway's drop counters.
type Stats struct {
	AuthRejects  uint64
	SeqDrops     uint64
	DecodeDrops  uint64
	FramesServed uint64
	ProducerBusy uint64
}

// Gateway accepts frame-producer connections on a control-plane address
// distinct from signaling. A connection is only accepted from the
// loopback interface or the configured trust set; everything else is
// rejected before any protocol exchange. Accepted producers stream
// self-describing frame records which are validated and republished
// through the Hub.
type Gateway struct {
	log      *logrus.Entry
	hub      *Hub
	bind     string
	trusted  []*net.IPNet
	upgrader websocket.Upgrader
	server   *http.Server

	authRejects  atomic.Uint64
	seqDrops     atomic.Uint64
	decodeDrops  atomic.Uint64
	framesServed atomic.Uint64
	producerBusy atomic.Uint64
}

// New builds a Gateway listening on bind. trust holds additional
// allowed origins as IPs or CIDRs; loopback is always allowed.
func New(bind string, trust []string, hub *Hub) (*Gateway, error) {
	trusted, err := parseTrustSet(trust)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		log:     logger.Logger.WithField("operator", "gateway"),
		hub:     hub,
		bind:    bind,
		trusted: trusted,
		upgrader: websocket.Upgrader{
			// Producers are local processes, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	return g, nil
}

func parseTrustSet(trust []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(trust))
	for _, entry := range trust {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("trust entry %q is neither IP nor CIDR", entry)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

// Handler exposes the framepipe route; split out so tests can drive the
// gateway through httptest.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(FramepipePath, g.handleFramepipe)
	return mux
}

// Run serves producer connections until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.server = &http.Server{Addr: g.bind, Handler: g.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.server.ListenAndServe()
	}()

	g.log.WithField("bind", g.bind).Info("Gateway listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = g.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Trusted reports whether remoteAddr (host:port) may open a framepipe.
func (g *Gateway) Trusted(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, ipNet := range g.trusted {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *Gateway) handleFramepipe(w http.ResponseWriter, r *http.Request) {
	if !g.Trusted(r.RemoteAddr) {
		g.authRejects.Add(1)
		g.log.WithField("remote", r.RemoteAddr).Warn("Rejected untrusted framepipe origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	connID, err := randutil.GenerateCryptoRandomString(connIDLength, connIDRunes)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := g.hub.AttachProducer(connID); err != nil {
		g.producerBusy.Add(1)
		g.log.WithField("remote", r.RemoteAddr).Warn("Rejected second producer connection")
		http.Error(w, "producer busy", http.StatusConflict)
		return
	}
	defer g.hub.DetachProducer(connID)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("Framepipe upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	log := g.log.WithFields(logrus.Fields{
		"conn":   connID,
		"remote": r.RemoteAddr,
	})
	log.Info("Producer connected")
	defer log.Info("Producer disconnected")

	g.readFrames(conn, log)
}

// readFrames consumes records until the producer disconnects. Decode
// and sequence violations drop the record, never the connection.
func (g *Gateway) readFrames(conn *websocket.Conn, log *logrus.Entry) {
	var (
		lastSeq uint64
		gotAny  bool
	)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType != websocket.BinaryMessage {
			log.WithField("len", len(data)).Debug("Ignoring text framepipe message")
			continue
		}

		frame, err := media.DecodeFrame(data)
		if err != nil {
			g.decodeDrops.Add(1)
			log.WithError(err).Warn("Dropping undecodable frame record")
			continue
		}

		if gotAny && frame.Seq <= lastSeq {
			g.seqDrops.Add(1)
			log.WithFields(logrus.Fields{
				"seq":  frame.Seq,
				"last": lastSeq,
			}).Warn("Dropping out-of-order frame")
			continue
		}
		lastSeq = frame.Seq
		gotAny = true

		frame.ReceivedAt = time.Now()
		g.hub.Publish(frame)
		g.framesServed.Add(1)
	}
}

// Stats returns a snapshot of the drop counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		AuthRejects:  g.authRejects.Load(),
		SeqDrops:     g.seqDrops.Load(),
		DecodeDrops:  g.decodeDrops.Load(),
		FramesServed: g.framesServed.Load(),
		ProducerBusy: g.producerBusy.Load(),
	}
}
