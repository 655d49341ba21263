// Package signal hosts the HTTP signaling endpoint: one POST /offer
// request creates one Session and returns its answer before the
// request completes.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"gesture-bridge/internal/logger"
	"gesture-bridge/internal/operator/session"
)

const (
	OfferPath = "/offer"

	// DefaultAnswerTimeout bounds the synchronous wait for ICE
	// gathering inside the signaling request.
	DefaultAnswerTimeout = 10 * time.Second

	shutdownTimeout = 3 * time.Second
)

var ErrMalformedOffer = errors.New("malformed session offer")

// OfferRequest is the browser's session description offer.
type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// AnswerResponse is the bridge's session description answer.
type AnswerResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Stats is a snapshot of the endpoint's counters.
type Stats struct {
	SessionsCreated uint64
	OffersRejected  uint64
}

// Endpoint accepts offers and answers them synchronously. Failures are
// reported to the caller without leaving a dangling Session behind.
type Endpoint struct {
	log           *logrus.Entry
	bind          string
	registry      *session.Registry
	sessionCfg    session.Config
	answerTimeout time.Duration
	server        *http.Server

	sessionsCreated atomic.Uint64
	offersRejected  atomic.Uint64
}

// New builds an endpoint creating sessions from cfg and registering
// them in registry. answerTimeout <= 0 selects DefaultAnswerTimeout.
func New(bind string, registry *session.Registry, cfg session.Config, answerTimeout time.Duration) *Endpoint {
	if answerTimeout <= 0 {
		answerTimeout = DefaultAnswerTimeout
	}
	return &Endpoint{
		log:           logger.Logger.WithField("operator", "signal"),
		bind:          bind,
		registry:      registry,
		sessionCfg:    cfg,
		answerTimeout: answerTimeout,
	}
}

// Handler exposes the offer route; split out so tests can drive the
// endpoint through httptest.
func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(OfferPath, e.handleOffer)
	return mux
}

// Run serves signaling requests until ctx is cancelled, then closes
// every live session.
func (e *Endpoint) Run(ctx context.Context) error {
	e.server = &http.Server{Addr: e.bind, Handler: e.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.server.ListenAndServe()
	}()

	e.log.WithField("bind", e.bind).Info("Signaling listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = e.server.Shutdown(shutdownCtx)
		e.registry.CloseAll()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (e *Endpoint) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req OfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		e.reject(w, "invalid offer body", err)
		return
	}
	if req.SDP == "" || req.Type != "offer" {
		e.reject(w, "offer must carry sdp and type \"offer\"", ErrMalformedOffer)
		return
	}

	sess, err := session.New(e.sessionCfg, func(s *session.Session) {
		e.registry.Remove(s.ID)
	})
	if err != nil {
		e.offersRejected.Add(1)
		e.log.WithError(err).Error("Session setup failed")
		http.Error(w, "session setup failed", http.StatusInternalServerError)
		return
	}

	// Register before negotiating: a session that reaches a terminal
	// state mid-negotiation removes itself through its terminal hook
	// instead of racing a later Add and lingering closed.
	e.registry.Add(sess)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}
	answer, err := sess.Negotiate(offer, e.answerTimeout)
	if err != nil {
		// No dangling session on negotiation failure.
		sess.Close()
		e.reject(w, "offer negotiation failed", err)
		return
	}

	e.sessionsCreated.Add(1)
	e.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"state":   sess.State().String(),
	}).Info("Session answered")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(AnswerResponse{
		SDP:  answer.SDP,
		Type: answer.Type.String(),
	}); err != nil {
		e.log.WithError(err).Warn("Writing answer failed")
	}
}

func (e *Endpoint) reject(w http.ResponseWriter, msg string, err error) {
	e.offersRejected.Add(1)
	e.log.WithError(err).Warn("Rejecting offer")
	http.Error(w, msg, http.StatusBadRequest)
}

// Stats returns a snapshot of the endpoint's counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		SessionsCreated: e.sessionsCreated.Load(),
		OffersRejected:  e.offersRejected.Load(),
	}
}
