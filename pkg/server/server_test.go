package server

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/mhaas-dev/chatline/pkg/datastore"
	"github.com/mhaas-dev/chatline/pkg/model"
	"github.com/mhaas-dev/chatline/pkg/protocol"
)

// nopRWC satisfies the codec's transport with a peer that never speaks and
// accepts every write.
type nopRWC struct{}

func (c *nopRWC) Read(_ []byte) (int, error)  { return 0, io.EOF }
func (c *nopRWC) Write(p []byte) (int, error) { return len(p), nil }
func (c *nopRWC) Close() error                { return nil }

func newTestStore(t *testing.T) *datastore.ProviderFactory {
	t.Helper()
	st, err := datastore.NewProviderFactory(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewProviderFactory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	return New(cfg, Dependencies{Store: newTestStore(t)})
}

// newTestSession registers a session whose sink is inspected directly via
// takeMessage; no writer goroutine runs.
func newTestSession(t *testing.T, srv *Server, name string, role model.Role) *Session {
	t.Helper()
	sess := NewSession(model.Identity{Username: name, Role: role}, protocol.NewCodec(&nopRWC{}))
	if err := srv.sessions.Register(sess); err != nil {
		t.Fatalf("Register %s: %v", name, err)
	}
	return sess
}

func takeMessage(t *testing.T, sess *Session) string {
	t.Helper()
	select {
	case msg := <-sess.out:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message queued for %s", sess.Username())
		return ""
	}
}

func noMessage(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case msg := <-sess.out:
		t.Fatalf("unexpected message for %s: %q", sess.Username(), msg)
	default:
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ListenAddr != ":5555" {
		t.Fatalf("ListenAddr: got %q", cfg.ListenAddr)
	}
	if cfg.AdminUser != "admin" {
		t.Fatalf("AdminUser: got %q", cfg.AdminUser)
	}
}

func TestEnsureAdminAccountFirstRunOnly(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	srv := New(cfg, Dependencies{Store: st})

	if err := srv.ensureAdminAccount(st); err != nil {
		t.Fatalf("ensureAdminAccount: %v", err)
	}
	admin, err := st.NonTx().GetAdminByUsername(cfg.AdminUser)
	if err != nil {
		t.Fatalf("GetAdminByUsername: %v", err)
	}
	if admin == nil {
		t.Fatalf("bootstrap admin not created")
	}

	// Second run must not touch the existing account.
	if err := srv.ensureAdminAccount(st); err != nil {
		t.Fatalf("ensureAdminAccount (second run): %v", err)
	}
	again, err := st.NonTx().GetAdminByUsername(cfg.AdminUser)
	if err != nil {
		t.Fatalf("GetAdminByUsername: %v", err)
	}
	if again.PasswordHash != admin.PasswordHash {
		t.Fatalf("ensureAdminAccount replaced the existing admin credentials")
	}
}
