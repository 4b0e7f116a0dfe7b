// Package server is the interpreter's network front: the websocket endpoint
// clients attach sessions to, and the out-of-band control surface (health,
// conversation inspection, stop/resume, metrics).
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bt-bridge/realtime-interpreter/conversation"
	"github.com/bt-bridge/realtime-interpreter/metrics"
	"github.com/bt-bridge/realtime-interpreter/session"
	"github.com/bt-bridge/realtime-interpreter/shared"
	"github.com/bt-bridge/realtime-interpreter/webhook"
)

// Deps wire the server to the orchestration core.
type Deps struct {
	Logger     shared.LoggerAdapter
	Metrics    *metrics.Metrics
	Store      conversation.Store
	Classifier session.SpeakerClassifier
	Summarizer conversation.Summarizer
	Intents    conversation.IntentExtractor
	Notifier   *webhook.Notifier
	OpenLink   session.LinkOpener

	Addr               string
	TranscriptionModel string
	HeartbeatInterval  time.Duration
	InactivityTimeout  time.Duration
}

type Server struct {
	deps     Deps
	logger   shared.LoggerAdapter
	registry *session.Registry
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if deps.Store == nil || deps.Classifier == nil || deps.OpenLink == nil {
		return nil, shared.ErrNoConfig
	}
	registry, err := session.NewRegistry(deps.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:       deps,
		logger:     deps.Logger.With(zap.String("component", "server")),
		registry:   registry,
		baseCtx:    ctx,
		cancelBase: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.httpSrv = &http.Server{
		Addr:    deps.Addr,
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /api/conversations/{id}/intents", s.handleConversationIntents)
	mux.HandleFunc("POST /api/conversations/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /api/conversations/{id}/resume", s.handleResume)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return mux
}

// Registry exposes live sessions, mainly for tests and diagnostics.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops every live session, then the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.StopAll(ctx, metrics.StopReasonDisconnect)
	s.cancelBase()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("on upgrading websocket", zap.Error(err))
		return
	}

	channel := newWSChannel(conn)
	o, err := session.New(session.Deps{
		Logger:               s.deps.Logger,
		Metrics:              s.deps.Metrics,
		Client:               channel,
		OpenLink:             s.deps.OpenLink,
		Store:                s.deps.Store,
		Classifier:           s.deps.Classifier,
		Summarizer:           s.deps.Summarizer,
		Intents:              s.deps.Intents,
		Notifier:             s.deps.Notifier,
		TranscriptionModel:   s.deps.TranscriptionModel,
		HeartbeatInterval:    s.deps.HeartbeatInterval,
		InactivityTimeout:    s.deps.InactivityTimeout,
		ResumeConversationId: r.URL.Query().Get("conversation_id"),
		OnStopped:            s.registry.Remove,
	})
	if err != nil {
		s.logger.Error("on creating session", err)
		_ = conn.Close()
		return
	}

	conn.SetPongHandler(func(string) error {
		o.HandlePong()
		return nil
	})

	s.registry.Add(o)
	o.Start(s.baseCtx)
	s.logger.Info("client attached", zap.String("session_id", o.SessionId()))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		// the reader reuses its buffer; hand the orchestrator a copy
		frame := make([]byte, len(data))
		copy(frame, data)
		o.HandleClientFrame(frame)
	}

	if o.State() != session.StateStopped {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if _, err := o.Stop(ctx, metrics.StopReasonDisconnect); err != nil {
			s.logger.Warn("on stopping session after disconnect", zap.Error(err))
		}
		cancel()
	}
	s.logger.Info("client detached", zap.String("session_id", o.SessionId()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, shared.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// handleConversationIntents flattens every message's intents, deduplicates
// restatements keeping the highest confidence, and groups them by type.
func (s *Server) handleConversationIntents(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, shared.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	var all []conversation.Intent
	for _, msg := range conv.Messages {
		all = append(all, msg.Intents...)
	}
	deduped := conversation.DedupIntents(all)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId":      conv.Id,
		"sessionId":           conv.SessionId,
		"totalIntents":        len(deduped),
		"originalIntentCount": len(all),
		"intentsByType":       conversation.GroupIntentsByType(deduped),
		"intents":             deduped,
	})
}

// handleStop accepts either a session id or a conversation id. Stopping an
// already stopped session acknowledges with the original result.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, err := s.registry.Lookup(id)
	if err != nil {
		o, err = s.registry.LookupByConversation(id)
	}
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	res, err := o.Stop(r.Context(), metrics.StopReasonClient)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": res.ConversationId,
		"summary":        res.Summary,
	})
}

// handleResume restores a stopped conversation to active so a new client
// connection can reattach to it (via /ws?conversation_id=...).
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Store.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, shared.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to resume conversation")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		s.logger.Error("on marshaling response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
