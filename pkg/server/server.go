// Package server exposes a bot handler over the query protocol's HTTP
// surface: one POST endpoint that dispatches on the request type and streams
// query replies back as server-sent events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/poe-platform/poe-protocol/pkg/poe"
)

// Handler is the capability set a bot implements. Embed BaseHandler to get
// protocol defaults and override what the bot needs.
type Handler interface {
	// GetResponse produces the reply to a query as a lazy, finite event
	// sequence. The server appends the done event; handlers only emit
	// content events.
	GetResponse(ctx context.Context, request *poe.QueryRequest) <-chan poe.Event

	// GetSettings returns the bot's settings.
	GetSettings(ctx context.Context, request *poe.SettingsRequest) (*poe.SettingsResponse, error)

	// OnFeedback is called when a user gives feedback on a message.
	OnFeedback(ctx context.Context, request *poe.ReportFeedbackRequest) error

	// OnError is called when the caller reports a protocol violation.
	OnError(ctx context.Context, request *poe.ReportErrorRequest) error
}

// BaseHandler provides protocol defaults for all Handler methods.
type BaseHandler struct{}

func (BaseHandler) GetResponse(ctx context.Context, request *poe.QueryRequest) <-chan poe.Event {
	events := make(chan poe.Event, 1)
	events <- poe.TextEvent("hello")
	close(events)
	return events
}

func (BaseHandler) GetSettings(ctx context.Context, request *poe.SettingsRequest) (*poe.SettingsResponse, error) {
	return &poe.SettingsResponse{AllowUserContextClear: true}, nil
}

func (BaseHandler) OnFeedback(ctx context.Context, request *poe.ReportFeedbackRequest) error {
	return nil
}

func (BaseHandler) OnError(ctx context.Context, request *poe.ReportErrorRequest) error {
	slog.Error("error reported by bot server",
		"message", request.Message, "metadata", request.Metadata)
	return nil
}

// Config contains configuration for the bot server.
type Config struct {
	Host string
	Port int

	// AccessKey, when set, requires callers to present it as a bearer
	// token.
	AccessKey string
}

// Server serves one bot handler over HTTP.
type Server struct {
	host       string
	port       int
	accessKey  string
	handler    Handler
	router     chi.Router
	httpServer *http.Server
}

// New creates a server for handler.
func New(cfg *Config, handler Handler) *Server {
	s := &Server{
		host:      cfg.Host,
		port:      cfg.Port,
		accessKey: cfg.AccessKey,
		handler:   handler,
	}

	r := chi.NewRouter()
	r.Post("/", s.handleRequest)
	s.router = r

	return s
}

// HTTPHandler exposes the routing handler, mainly for tests.
func (s *Server) HTTPHandler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("bot server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "invalid access key", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var base poe.BaseRequest
	if err := json.Unmarshal(body, &base); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	switch base.Type {
	case poe.RequestTypeQuery:
		var req poe.QueryRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid query request", http.StatusBadRequest)
			return
		}
		s.handleQuery(w, r, &req)

	case poe.RequestTypeSettings:
		var req poe.SettingsRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid settings request", http.StatusBadRequest)
			return
		}
		settings, err := s.handler.GetSettings(r.Context(), &req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, settings)

	case poe.RequestTypeReportFeedback:
		var req poe.ReportFeedbackRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid feedback report", http.StatusBadRequest)
			return
		}
		if err := s.handler.OnFeedback(r.Context(), &req); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{})

	case poe.RequestTypeReportError:
		var req poe.ReportErrorRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid error report", http.StatusBadRequest)
			return
		}
		if err := s.handler.OnError(r.Context(), &req); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]any{})

	default:
		http.Error(w, "Unsupported request type", http.StatusNotImplemented)
	}
}

// handleQuery streams the handler's reply as server-sent events, always
// terminated by a done event.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, req *poe.QueryRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	for ev := range s.handler.GetResponse(ctx, req) {
		if ctx.Err() != nil {
			return
		}
		s.writeEvent(w, flusher, ev)
	}
	if ctx.Err() != nil {
		return
	}
	s.writeEvent(w, flusher, poe.DoneEvent())
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev poe.Event) {
	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", ev.Data)
	flusher.Flush()
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.accessKey == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	return strings.TrimPrefix(auth, "Bearer ") == s.accessKey
}
