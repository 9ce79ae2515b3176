package server

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mhaas-dev/chatline/pkg/crypto"
	"github.com/mhaas-dev/chatline/pkg/datastore"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	st := s.store
	defer func() { _ = st.NonTx().Close() }()

	// Restore mute state that survived the previous run
	if err := s.moderation.Load(); err != nil {
		return err
	}
	if bans, err := s.moderation.ActiveBans(); err != nil {
		return err
	} else if len(bans) > 0 {
		slog.Info("moderation state restored", "active_bans", len(bans))
	}

	// Ensure an admin account exists
	if err := s.ensureAdminAccount(st); err != nil {
		return err
	}

	// Create rooms from YAML config if provided
	if s.cfg.RoomsFile != "" {
		if err := LoadRoomsFromYAML(s.cfg.RoomsFile, s.rooms); err != nil {
			slog.Error("failed to load rooms config", "err", err)
		}
	}

	// Start listener
	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("chatline server running", "addr", s.cfg.ListenAddr)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server: no new connections are accepted and
// every live session's sink is closed so its connection goroutine unwinds.
func (s *Server) Shutdown() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, name := range s.sessions.Usernames() {
		if sess, ok := s.sessions.Lookup(name); ok {
			s.sessions.ForceDisconnect(sess)
		}
	}
}

// ensureAdminAccount creates the bootstrap admin only on first run (no
// admins exist). The generated password is printed once and never stored
// in the clear.
func (s *Server) ensureAdminAccount(st datastore.DataProviderFactory) error {
	hasAdmins, err := st.NonTx().HasAdmins()
	if err != nil {
		return fmt.Errorf("server: check admins: %w", err)
	}
	if hasAdmins {
		return nil // admins already exist, don't generate more
	}

	password, err := crypto.GeneratePassword()
	if err != nil {
		return fmt.Errorf("server: generate admin password: %w", err)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("server: hash admin password: %w", err)
	}
	if _, err := st.NonTx().CreateAdmin(s.cfg.AdminUser, hash); err != nil {
		return fmt.Errorf("server: store admin account: %w", err)
	}

	slog.Info("========================================")
	slog.Info("ADMIN ACCOUNT (save this!)", "username", s.cfg.AdminUser, "password", password)
	slog.Info("========================================")
	return nil
}
