package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/mhaas-dev/chatline/pkg/model"
)

func TestDeliverSkipsExcludeAndDisconnected(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice", model.RoleUser)
	bob := newTestSession(t, srv, "bob", model.RoleUser)

	sent := srv.deliver([]string{"alice", "bob", "ghost"}, "hello", "alice")
	if sent != 1 {
		t.Fatalf("deliver: got %d sends, want 1", sent)
	}
	if got := takeMessage(t, bob); got != "hello" {
		t.Fatalf("deliver to bob: got %q", got)
	}
	noMessage(t, alice)
}

func TestBroadcastAllReachesEveryoneOnEmptyExclude(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice", model.RoleUser)
	bob := newTestSession(t, srv, "bob", model.RoleUser)

	sent := srv.broadcastAll("server notice", "")
	if sent != 2 {
		t.Fatalf("broadcastAll: got %d sends, want 2", sent)
	}
	for _, sess := range []*Session{alice, bob} {
		if got := takeMessage(t, sess); got != "server notice" {
			t.Fatalf("broadcastAll to %s: got %q", sess.Username(), got)
		}
	}
}

func TestDeadSinkDoesNotBlockOthers(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestSession(t, srv, "alice", model.RoleUser)
	bob := newTestSession(t, srv, "bob", model.RoleUser)

	// Saturate bob's queue to model a peer that stopped reading.
	for i := 0; i < sinkBufferSize; i++ {
		if err := bob.Send(fmt.Sprintf("backlog %d", i)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	sent := srv.broadcastAll("fresh news", "")
	if sent != 1 {
		t.Fatalf("broadcastAll with dead sink: got %d sends, want 1", sent)
	}
	if got := takeMessage(t, alice); got != "fresh news" {
		t.Fatalf("broadcastAll to alice: got %q", got)
	}

	// The dead recipient is disconnected asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := srv.sessions.Lookup("bob"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dead sink was never force-disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !bob.Closed() {
		t.Fatalf("dead sink session still open")
	}
}

func TestDeadSinkDisconnectSparesReconnectedUser(t *testing.T) {
	srv := newTestServer(t)
	stale := newTestSession(t, srv, "alice", model.RoleUser)

	for i := 0; i < sinkBufferSize; i++ {
		if err := stale.Send(fmt.Sprintf("backlog %d", i)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	// Schedules the asynchronous disconnect of the saturated session.
	if sent := srv.deliver([]string{"alice"}, "fresh news", ""); sent != 0 {
		t.Fatalf("deliver to dead sink: got %d sends, want 0", sent)
	}

	// The user drops and reconnects before the disconnect goroutine runs.
	srv.sessions.Unregister(stale)
	successor := newTestSession(t, srv, "alice", model.RoleUser)

	deadline := time.Now().Add(2 * time.Second)
	for !stale.Closed() {
		if time.Now().After(deadline) {
			t.Fatalf("stale session was never closed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if successor.Closed() {
		t.Fatalf("reconnected session was closed by the stale disconnect")
	}
	if got, ok := srv.sessions.Lookup("alice"); !ok || got != successor {
		t.Fatalf("reconnected session lost its registry entry")
	}
	if err := successor.Send("still here"); err != nil {
		t.Fatalf("Send to reconnected session: %v", err)
	}
}
