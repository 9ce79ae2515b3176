package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode"

	"github.com/mhaas-dev/chatline/pkg/auth"
	"github.com/mhaas-dev/chatline/pkg/model"
	"github.com/mhaas-dev/chatline/pkg/protocol"
)

// bootstrapTimeout bounds the authentication handshake so a silent peer
// cannot pin a goroutine forever.
const bootstrapTimeout = 60 * time.Second

// Start binds the TCP listener and launches the accept loop. The loop never
// blocks on a specific client; every accepted connection gets its own goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	slog.Info("chat server listening", "addr", ln.Addr().String())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("accept error", "err", err)
				continue
			}
			go s.handleConn(conn)
		}
	}()
	return nil
}

// handleConn owns one client connection from accept to cleanup.
func (s *Server) handleConn(conn net.Conn) {
	codec := protocol.NewCodec(conn)
	defer func() { _ = codec.Close() }()

	remoteAddr := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	defer s.metrics.ActiveConnections.Add(-1)
	slog.Debug("new connection", "remote", remoteAddr)

	identity, err := s.bootstrap(codec)
	if err != nil {
		s.metrics.FailedAuths.Add(1)
		slog.Info("authentication failed", "remote", remoteAddr, "err", err)
		return
	}
	s.metrics.SuccessfulAuths.Add(1)

	sess := NewSession(identity, codec)
	if err := s.sessions.Register(sess); err != nil {
		_ = codec.WriteMessage(fmt.Sprintf("User '%s' is already connected.", identity.Username))
		slog.Info("duplicate session rejected", "user", identity.Username, "remote", remoteAddr)
		return
	}
	go sess.WriteLoop()

	slog.Info("client authenticated",
		"user", identity.Username, "role", identity.Role.String(), "remote", remoteAddr)
	s.broadcastAll(identity.Username+" has joined the chat!", identity.Username)

	defer func() {
		sess.Close()
		s.sessions.Unregister(sess)
		s.metrics.TotalDisconnects.Add(1)
		slog.Info("client disconnected", "user", identity.Username, "remote", remoteAddr)
		s.broadcastAll(identity.Username+" left the chat.", identity.Username)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		line, err := codec.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedErr(err) {
				slog.Warn("read error", "user", identity.Username, "err", err)
			}
			return
		}
		line = sanitizeText(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		if s.dispatch(sess, line) {
			return
		}
	}
}

// bootstrap runs the authentication handshake: mode prompt, credential
// prompts, gateway check. Any failure is terminal for the connection.
func (s *Server) bootstrap(codec *protocol.Codec) (model.Identity, error) {
	_ = codec.SetReadDeadline(time.Now().Add(bootstrapTimeout))
	defer func() { _ = codec.SetReadDeadline(time.Time{}) }()

	if err := codec.WriteRaw(protocol.PromptMode); err != nil {
		return model.Identity{}, err
	}
	choice, err := codec.ReadMessage()
	if err != nil {
		return model.Identity{}, err
	}
	mode, ok := auth.ParseMode(strings.TrimSpace(choice))
	if !ok {
		_ = codec.WriteMessage(protocol.ReplyInvalidChoice)
		return model.Identity{}, fmt.Errorf("server: invalid auth choice %q", choice)
	}

	if err := codec.WriteRaw(protocol.PromptUsername); err != nil {
		return model.Identity{}, err
	}
	username, err := codec.ReadMessage()
	if err != nil {
		return model.Identity{}, err
	}
	if err := codec.WriteRaw(protocol.PromptPassword); err != nil {
		return model.Identity{}, err
	}
	password, err := codec.ReadMessage()
	if err != nil {
		return model.Identity{}, err
	}

	identity, err := s.gateway.Authenticate(s.ctx, mode, strings.TrimSpace(username), password)
	if err != nil {
		_ = codec.WriteMessage(authFailureReply(mode, err))
		return model.Identity{}, err
	}
	if err := codec.WriteMessage(authSuccessReply(mode)); err != nil {
		return model.Identity{}, err
	}
	return identity, nil
}

// authFailureReply maps a gateway error to the wire reply for the given mode.
func authFailureReply(mode auth.Mode, err error) string {
	switch {
	case errors.Is(err, auth.ErrBanned):
		return protocol.ReplyBanned
	case mode == auth.ModeRegister:
		return protocol.ReplyRegistrationFailed
	case mode == auth.ModeAdmin:
		return protocol.ReplyInvalidAdminCredentials
	default:
		return protocol.ReplyInvalidCredentials
	}
}

func authSuccessReply(mode auth.Mode) string {
	switch mode {
	case auth.ModeRegister:
		return protocol.ReplyRegisterOK
	case auth.ModeAdmin:
		return protocol.ReplyAdminOK
	default:
		return protocol.ReplyLoginOK
	}
}

// isClosedErr reports whether an error stems from a connection that was
// closed on our side (kick, ban, shutdown).
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, protocol.ErrClosed)
}

// sanitizeText strips control characters (except newline) from user-supplied text
// to prevent UI spoofing, terminal escape injection, and null-byte attacks.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1 // strip all other control chars (null, bell, ANSI escapes, etc.)
		}
		return r
	}, s)
}
