// Package server implements the chatline server.
package server

import (
	"context"
	"net"

	"github.com/mhaas-dev/chatline/pkg/auth"
	"github.com/mhaas-dev/chatline/pkg/datastore"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string // TCP bind address (e.g. ":5555")
	DBPath      string // SQLite database path
	MetricsAddr string // HTTP bind address for /metrics endpoint (empty = disabled)
	RoomsFile   string // YAML file defining rooms to create on startup
	AdminUser   string // username for the bootstrap admin account

	// CLI-only actions (run and exit)
	ExportUsers bool // export all users as YAML and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":5555",
		MetricsAddr: ":5556",
		DBPath:      "chatline.db",
		AdminUser:   "admin",
	}
}

// Server is the main chatline server.
type Server struct {
	cfg        Config
	sessions   *SessionRegistry
	rooms      *RoomRegistry
	moderation *Moderation
	gateway    *auth.Gateway
	metrics    *Metrics
	store      datastore.DataProviderFactory
	ln         net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		sessions:   NewSessionRegistry(),
		rooms:      NewRoomRegistry(),
		moderation: NewModeration(deps.Store),
		gateway:    auth.NewGateway(deps.Store),
		metrics:    NewMetrics(),
		store:      deps.Store,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Sessions returns the session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Rooms returns the room registry.
func (s *Server) Rooms() *RoomRegistry {
	return s.rooms
}

// Moderation returns the moderation layer.
func (s *Server) Moderation() *Moderation {
	return s.moderation
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
