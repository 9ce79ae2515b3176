package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mhaas-dev/chatline/pkg/crypto"
	"github.com/mhaas-dev/chatline/pkg/datastore"
)

// startTestServer boots a full server on an ephemeral port and returns it
// with its store and dial address.
func startTestServer(t *testing.T) (*Server, *datastore.ProviderFactory, string) {
	t.Helper()
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	srv := New(cfg, Dependencies{Store: st})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv, st, srv.ln.Addr().String()
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialServer(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) sendLine(s string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(s + "\n")); err != nil {
		c.t.Fatalf("write %q: %v", s, err)
	}
}

// readLine reads one newline-terminated server push. Prompts carry no
// terminator, so the line that completes the handshake contains the prompt
// text followed by the first real reply.
func (c *testClient) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) expectLine(want string) {
	c.t.Helper()
	if got := c.readLine(); got != want {
		c.t.Fatalf("read line: got %q, want %q", got, want)
	}
}

func (c *testClient) expectContains(sub string) {
	c.t.Helper()
	if got := c.readLine(); !strings.Contains(got, sub) {
		c.t.Fatalf("read line: got %q, want substring %q", got, sub)
	}
}

// expectClosed asserts that the server ends the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if line, err := c.r.ReadString('\n'); err == nil {
		c.t.Fatalf("expected close, got line %q", line)
	}
}

// authenticate drives the handshake and asserts the mode's success reply.
func (c *testClient) authenticate(mode, username, password, wantReply string) {
	c.t.Helper()
	c.sendLine(mode)
	c.sendLine(username)
	c.sendLine(password)
	c.expectContains(wantReply)
}

func TestServerRegisterLoginRoundTrip(t *testing.T) {
	_, _, addr := startTestServer(t)

	first := dialServer(t, addr)
	first.authenticate("register", "alice", "secret", "Registration successful")
	first.sendLine("/list_users")
	first.expectLine("Online users: alice")
	first.sendLine("/quit")
	first.expectClosed()

	second := dialServer(t, addr)
	second.authenticate("login", "alice", "secret", "Login successful")
	second.sendLine("/list_users")
	second.expectLine("Online users: alice")
}

func TestServerRejectsDuplicateConnection(t *testing.T) {
	_, _, addr := startTestServer(t)

	first := dialServer(t, addr)
	first.authenticate("register", "alice", "secret", "Registration successful")

	second := dialServer(t, addr)
	second.authenticate("login", "alice", "secret", "Login successful")
	second.expectLine("User 'alice' is already connected.")
	second.expectClosed()

	// The original session keeps serving.
	first.sendLine("/list_users")
	first.expectLine("Online users: alice")
}

func TestServerInvalidChoiceCloses(t *testing.T) {
	_, _, addr := startTestServer(t)

	c := dialServer(t, addr)
	c.sendLine("banana")
	c.expectContains("Invalid choice. Connection closed.")
	c.expectClosed()
}

func TestServerBannedLoginRejected(t *testing.T) {
	_, st, addr := startTestServer(t)

	hash, err := crypto.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	tx, err := st.Tx(context.Background())
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if _, err := tx.RegisterUser("bob", hash); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if err := st.NonTx().CreateBan("bob", "spamming", "root", st.NonTx().ZeroTime()); err != nil {
		t.Fatalf("CreateBan: %v", err)
	}

	c := dialServer(t, addr)
	c.sendLine("login")
	c.sendLine("bob")
	c.sendLine("secret")
	c.expectContains("You are banned from this server.")
	c.expectClosed()
}

func TestServerChatAndKick(t *testing.T) {
	_, st, addr := startTestServer(t)

	hash, err := crypto.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.NonTx().CreateAdmin("root", hash); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	alice := dialServer(t, addr)
	alice.authenticate("register", "alice", "secret", "Registration successful")

	bob := dialServer(t, addr)
	bob.authenticate("register", "bob", "secret", "Registration successful")
	alice.expectLine("bob has joined the chat!")

	bob.sendLine("hello")
	alice.expectLine("bob: hello")

	admin := dialServer(t, addr)
	admin.authenticate("admin", "root", "hunter2", "Admin login successful")
	alice.expectLine("root has joined the chat!")
	bob.expectLine("root has joined the chat!")

	admin.sendLine("/kick alice")
	admin.expectLine("User 'alice' has been kicked.")
	alice.expectContains("You have been kicked from the server.")
	alice.expectClosed()

	// The departure notice orders the registry update before this read.
	bob.expectLine("alice left the chat.")
	bob.sendLine("/list_users")
	bob.expectLine("Online users: bob, root")
}

func TestServerOversizeLineDisconnects(t *testing.T) {
	_, _, addr := startTestServer(t)

	c := dialServer(t, addr)
	c.authenticate("register", "alice", "secret", "Registration successful")
	c.sendLine(strings.Repeat("x", 5000))
	c.expectClosed()
}
