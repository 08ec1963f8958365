// Package httpapi exposes the core's operations over HTTP (spec §6): chat
// send/stream, stop/cancel, versioning, workspace/domain tool decisions, and
// the web/terminal session surfaces -- all on a single stdlib
// http.ServeMux, no router dependency.
//
// Grounded on tranhoangtu-it-openbot's internal/channel/web.go: the same
// method-prefixed http.ServeMux routing (Go 1.22+ "GET /path" patterns),
// SSE-via-http.Flusher loop, and graceful http.Server.Shutdown on context
// cancellation, generalized from one bot channel to the full core API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/config"
	"github.com/logqs/atlas2/internal/dispatcher"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/store"
	"github.com/logqs/atlas2/internal/terminal"
	"github.com/logqs/atlas2/internal/websession"
	"github.com/logqs/atlas2/internal/workerpool"
)

// Server wires the core's internal components onto an HTTP surface.
type Server struct {
	host string
	port int
	log  *slog.Logger

	store      *store.Store
	bus        *eventbus.Bus
	dispatcher *dispatcher.Dispatcher
	async      *asyncengine.Engine
	pool       *workerpool.Pool
	webs       *websession.Manager
	terms      *terminal.Manager
	prefs      *config.Manager

	httpServer *http.Server
}

// Config bundles everything Server needs. Pool and web/terminal managers
// may be nil when those subsystems are disabled.
type Config struct {
	Host string
	Port int
	Log  *slog.Logger

	Store      *store.Store
	Bus        *eventbus.Bus
	Dispatcher *dispatcher.Dispatcher
	Async      *asyncengine.Engine
	Pool       *workerpool.Pool
	WebSession *websession.Manager
	Terminal   *terminal.Manager
	Prefs      *config.Manager // optional; a default is constructed if nil
}

// New constructs a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	prefs := cfg.Prefs
	if prefs == nil {
		if m, err := config.NewManager(); err == nil {
			prefs = m
		} else {
			cfg.Log.Warn("preference manager unavailable, default-provider lookup disabled", "error", err)
		}
	}
	return &Server{
		host: cfg.Host, port: cfg.Port, log: cfg.Log,
		store: cfg.Store, bus: cfg.Bus, dispatcher: cfg.Dispatcher,
		async: cfg.Async, pool: cfg.Pool, webs: cfg.WebSession, terms: cfg.Terminal,
		prefs: prefs,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then drains
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.routes(mux)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("http api started", "addr", "http://"+addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat/send", s.handleChatSend)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /chat/stream/all", s.handleChatStreamAll)
	mux.HandleFunc("GET /chat/state/stream", s.handleChatStateStream)
	mux.HandleFunc("POST /chat/{id}/stop", s.handleChatStop)
	mux.HandleFunc("POST /chat/{id}/cancel", s.handleChatCancel)
	mux.HandleFunc("GET /chat/history/{chat_id}", s.handleChatHistory)
	mux.HandleFunc("GET /chat/providers", s.handleProviders)
	mux.HandleFunc("GET /chat/models", s.handleModels)
	mux.HandleFunc("GET /chat/preferences", s.handleGetPreferences)
	mux.HandleFunc("PUT /chat/preferences", s.handleSetPreferences)

	mux.HandleFunc("POST /db/versioning/notify", s.handleVersioningNotify)
	mux.HandleFunc("GET /db/chat/{id}/versions", s.handleChatVersions)
	mux.HandleFunc("GET /messages/{id}/versions", s.handleMessageVersions)

	mux.HandleFunc("POST /chats/{chat_id}/domain/{task_id}/tool/{call_id}/decision", s.handleDomainToolDecision)
	mux.HandleFunc("POST /chats/{chat_id}/workspace_selected", s.handleWorkspaceSelected)

	mux.HandleFunc("POST /web/session", s.handleWebEnsureSession)
	mux.HandleFunc("GET /web/session/{chat_id}/frame", s.handleWebCaptureFrame)
	mux.HandleFunc("POST /web/session/{chat_id}/command", s.handleWebDispatchCommand)

	mux.HandleFunc("POST /terminal/{chat_id}", s.handleTerminalCreate)
	mux.HandleFunc("POST /terminal/{chat_id}/send", s.handleTerminalSend)
	mux.HandleFunc("GET /terminal/{chat_id}/stream", s.handleTerminalStream)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}
