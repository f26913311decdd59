// Package bridge serves widget API sessions over websockets: each
// connection binds a configured widget to the built-in static driver,
// which makes it a self-contained endpoint for developing and testing
// widgets without a full Matrix client around them.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	widgetapi "github.com/matrix-org/go-widget-api"
	"github.com/matrix-org/go-widget-api/host"
	"github.com/matrix-org/go-widget-api/internal/collection"
	"github.com/matrix-org/go-widget-api/transport"
)

// Service is the bridge: an HTTP server upgrading widget connections to
// websocket-backed widget API sessions.
type Service struct {
	config   *Config
	logger   *slog.Logger
	driver   host.Driver
	upgrader websocket.Upgrader
	sessions *collection.SyncMap[string, *session]
}

type session struct {
	id     string
	widget *widgetapi.Widget
	host   *host.Host
}

// New creates a bridge service from the given config.
func New(config *Config, opts ...Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		config:   config,
		logger:   slog.Default(),
		sessions: collection.NewSyncMap[string, *session](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.driver == nil {
		s.driver = NewStaticDriver(&config.Driver, s.logger)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if s.config.AllowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == s.config.AllowedOrigin
		},
	}
	return s, nil
}

// HTTP returns the bridge's HTTP server. The addr argument overrides the
// configured listen address when non-empty.
func (s *Service) HTTP(_ context.Context, addr string) *http.Server {
	if addr == "" {
		addr = s.config.Addr
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /widgets", s.handleListWidgets)
	mux.HandleFunc("GET /widgets/{widgetID}/ws", s.handleSession)
	return &http.Server{Addr: addr, Handler: mux}
}

// SessionCount returns the number of live widget sessions.
func (s *Service) SessionCount() int {
	return s.sessions.Len()
}

// Shutdown stops every live session.
func (s *Service) Shutdown() {
	s.sessions.Range(func(id string, sess *session) bool {
		sess.host.Stop()
		s.sessions.Delete(id)
		return true
	})
}

func (s *Service) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.config.Widgets); err != nil {
		s.logger.Error("failed to write widget list", "error", err)
	}
}

// handleSession upgrades the connection and runs one widget session on it
// until the socket closes. The websocket connecting stands in for the
// widget's frame having loaded.
func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	widgetID := r.PathValue("widgetID")
	definition, ok := s.config.Widget(widgetID)
	if !ok {
		http.Error(w, "unknown widget", http.StatusNotFound)
		return
	}
	widget, err := widgetapi.NewWidget(*definition)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "widget", widgetID, "error", err)
		return
	}

	channel := transport.NewWebSocketChannel(conn, r.Header.Get("Origin"))
	sess := &session{id: uuid.NewString(), widget: widget}
	sess.host, err = host.New(widget, channel, s.driver,
		host.WithLogger(s.logger.With("session", sess.id, "widget", widgetID)),
		host.WithReadyFunc(func() {
			s.logger.Info("widget session ready", "session", sess.id, "widget", widgetID)
		}),
	)
	if err != nil {
		s.logger.Error("failed to start widget session", "widget", widgetID, "error", err)
		_ = channel.Close()
		return
	}
	s.sessions.Put(sess.id, sess)
	s.logger.Info("widget session started", "session", sess.id, "widget", widgetID, "origin", r.Header.Get("Origin"))

	sess.host.NotifyFrameLoad()

	conn.SetCloseHandler(func(code int, text string) error {
		s.logger.Info("widget session closed", "session", sess.id, "code", code)
		return nil
	})
	go s.reap(sess, channel)
}

// reap waits for the session's channel to die and tears the session down.
func (s *Service) reap(sess *session, channel *transport.WebSocketChannel) {
	channel.Wait()
	sess.host.Stop()
	s.sessions.Delete(sess.id)
	s.logger.Info("widget session reaped", "session", sess.id)
}
