// Package server is the HTTP ingest surface of the agent. Static pages POST
// beacons here; the handlers drive attribution, event relay, link rewriting
// and the aggregate counters the milestone engine polls.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/attribution"
	"github.com/visitrail/visitrail/internal/config"
	"github.com/visitrail/visitrail/internal/device"
	"github.com/visitrail/visitrail/internal/identity"
	"github.com/visitrail/visitrail/internal/linkrewrite"
	"github.com/visitrail/visitrail/internal/pipeline"
	"github.com/visitrail/visitrail/internal/referral"
	"github.com/visitrail/visitrail/internal/session"
	"github.com/visitrail/visitrail/internal/store"
	"github.com/visitrail/visitrail/internal/webhook"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBeaconBytes = 64 << 10

// Server wires the components together behind the beacon endpoints. Session
// state lives in the registry for the lifetime of a page visit; everything
// durable goes through the KV store.
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	ids      *identity.Manager
	resolver *referral.Resolver
	attrib   *attribution.Chain
	rewriter *linkrewrite.Rewriter
	pipe     *pipeline.Pipeline
	hooks    *webhook.Dispatcher
	stats    *StatsStore

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func New(
	cfg *config.Config,
	kv store.KV,
	ids *identity.Manager,
	resolver *referral.Resolver,
	attrib *attribution.Chain,
	pipe *pipeline.Pipeline,
	hooks *webhook.Dispatcher,
	log *zap.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		log:      log.With(zap.String("module", "server")),
		ids:      ids,
		resolver: resolver,
		attrib:   attrib,
		rewriter: linkrewrite.New(cfg.RegistrationDomains, log),
		pipe:     pipe,
		hooks:    hooks,
		stats:    NewStatsStore(kv),
		sessions: map[string]*session.Session{},
	}
}

// Stats exposes the aggregate counters for the milestone engine.
func (s *Server) Stats() *StatsStore { return s.stats }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/pageview", s.handlePageView)
	mux.HandleFunc("POST /v1/event", s.handleEvent)
	mux.HandleFunc("POST /v1/exit", s.handleExit)
	mux.HandleFunc("POST /v1/rewrite", s.handleRewrite)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type pageViewRequest struct {
	VisitorID string `json:"visitor_id"`
	PageURL   string `json:"page_url"`
}

type pageViewResponse struct {
	VisitorID  string                     `json:"visitor_id"`
	SessionID  string                     `json:"session_id"`
	NewVisitor bool                       `json:"new_visitor"`
	Referral   *attribution.ReferralState `json:"referral"`
}

func (s *Server) handlePageView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pageViewRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PageURL == "" {
		httpError(w, http.StatusBadRequest, "page_url is required")
		return
	}
	beaconsReceived.WithLabelValues("pageview").Inc()

	id := s.ids.Ensure(ctx, req.VisitorID)

	persisted, _ := s.attrib.Load(ctx, id.VisitorID)
	resolved := s.resolver.Resolve(req.PageURL, persisted)
	if fromURL(resolved.Source) {
		_ = s.attrib.Save(ctx, id.VisitorID, resolved)
	}

	sess := session.New(id.SessionID, id.VisitorID, req.PageURL, resolved, device.FromRequest(r))
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if id.NewVisitor {
		s.stats.Increment(ctx, CounterVisitors)
		if fromURL(resolved.Source) {
			s.stats.Increment(ctx, CounterReferrals)
		}
		s.hooks.Send(webhook.EventVisitorNew, map[string]any{
			"visitor_id": id.VisitorID,
			"referrer":   resolved.Referrer,
			"source":     string(resolved.Source),
		})
	}

	s.pipe.RecordCreate(sess.ID, pipeline.CreateRecord(sess))

	s.respond(w, http.StatusOK, pageViewResponse{
		VisitorID:  id.VisitorID,
		SessionID:  sess.ID,
		NewVisitor: id.NewVisitor,
		Referral:   resolved,
	})
}

type eventRequest struct {
	SessionID  string `json:"session_id"`
	Type       string `json:"type"`
	TimeOnPage int    `json:"time_on_page"`
	Clicks     int    `json:"clicks"`
	CTAClicked bool   `json:"cta_clicked"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req eventRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, ok := s.session(req.SessionID)
	if !ok {
		httpError(w, http.StatusNotFound, "unknown session")
		return
	}
	beaconsReceived.WithLabelValues(req.Type).Inc()

	switch req.Type {
	case "heartbeat":
		s.pipe.RecordUpdate(sess.ID, pipeline.Record{
			pipeline.FieldTimeOnPage: req.TimeOnPage,
			pipeline.FieldClicks:     req.Clicks,
		})
	case "click":
		fields := pipeline.Record{pipeline.FieldClicks: req.Clicks}
		if req.CTAClicked {
			fields[pipeline.FieldCTAClicked] = true
		}
		s.pipe.RecordUpdate(sess.ID, fields)
	case "registration":
		s.stats.Increment(ctx, CounterRegistrations)
		s.pipe.RecordUpdate(sess.ID, pipeline.Record{pipeline.FieldRegistered: true})
		s.hooks.Send(webhook.EventRegistration, map[string]any{
			"visitor_id":  sess.VisitorID,
			"referrer":    sess.Referral.Referrer,
			"invite_code": sess.Referral.InviteCode,
		})
	default:
		httpError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type exitRequest struct {
	SessionID  string `json:"session_id"`
	TimeOnPage int    `json:"time_on_page"`
	Clicks     int    `json:"clicks"`
}

// handleExit is the teardown beacon: one synchronous fire-once update, then
// the session is released.
func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, ok := s.session(req.SessionID)
	if !ok {
		httpError(w, http.StatusNotFound, "unknown session")
		return
	}
	beaconsReceived.WithLabelValues("exit").Inc()

	s.pipe.FlushFinal(r.Context(), sess.ID, pipeline.Record{
		pipeline.FieldTimeOnPage: req.TimeOnPage,
		pipeline.FieldClicks:     req.Clicks,
	})
	s.pipe.Forget(sess.ID)
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	s.respond(w, http.StatusAccepted, map[string]string{"status": "flushed"})
}

type rewriteRequest struct {
	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id"`
	HTML      string `json:"html"`
}

// handleRewrite applies the session's attribution to a served HTML fragment.
// Without a session it falls back to the visitor's persisted state, then the
// deploy defaults, so injected content is still tagged.
func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var req rewriteRequest
	if !s.decode(w, r, &req) {
		return
	}
	state := s.rewriteState(r.Context(), req.SessionID, req.VisitorID)
	out, err := s.rewriter.Rewrite(req.HTML, state)
	if err != nil {
		httpError(w, http.StatusBadRequest, "unparseable fragment")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"html": out})
}

func (s *Server) rewriteState(ctx context.Context, sessionID, visitorID string) *attribution.ReferralState {
	if sess, ok := s.session(sessionID); ok {
		return sess.Referral
	}
	if visitorID != "" {
		if persisted, _ := s.attrib.Load(ctx, visitorID); persisted != nil {
			return persisted
		}
	}
	return attribution.Default(s.cfg.DefaultReferrer, s.cfg.DefaultInviteCode)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.cfg.AppName,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) session(id string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, maxBeaconBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "malformed beacon")
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("response encode failed", zap.Error(err))
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

func fromURL(src attribution.Source) bool {
	return src == attribution.SourceURLParam || src == attribution.SourceSharedLink
}
