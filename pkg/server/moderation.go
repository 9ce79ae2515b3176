package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/mhaas-dev/chatline/pkg/datastore"
	"github.com/mhaas-dev/chatline/pkg/model"
)

// Moderation tracks mute state in memory, backed by the datastore so mutes
// survive restarts, and fronts the persistent ban table. Mute expiry is
// evaluated lazily on read.
type Moderation struct {
	mu    sync.Mutex
	mutes map[string]model.MuteEntry
	store datastore.DataProviderFactory
	now   func() time.Time
}

// NewModeration creates a moderation layer over the given store.
func NewModeration(store datastore.DataProviderFactory) *Moderation {
	return &Moderation{
		mutes: make(map[string]model.MuteEntry),
		store: store,
		now:   time.Now,
	}
}

// Load populates the in-memory mute table from the datastore, dropping
// entries that expired while the server was down. Called once at startup.
func (m *Moderation) Load() error {
	entries, err := m.store.NonTx().ListMutes()
	if err != nil {
		return fmt.Errorf("server: load mutes: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, e := range entries {
		if e.Expired(now) {
			continue
		}
		m.mutes[e.Username] = e
	}
	return nil
}

// Mute silences a username for the given duration, replacing any existing
// mute. The entry is persisted before the in-memory table is updated.
func (m *Moderation) Mute(username, mutedBy string, d time.Duration) error {
	expiresAt := m.now().Add(d)
	if err := m.store.NonTx().UpsertMute(username, mutedBy, expiresAt); err != nil {
		return fmt.Errorf("server: mute %s: %w", username, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutes[username] = model.MuteEntry{
		Username:  username,
		MutedBy:   mutedBy,
		ExpiresAt: expiresAt,
	}
	return nil
}

// Unmute lifts a mute. Unmuting a user who is not muted is a no-op.
func (m *Moderation) Unmute(username string) error {
	if err := m.store.NonTx().DeleteMute(username); err != nil {
		return fmt.Errorf("server: unmute %s: %w", username, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mutes, username)
	return nil
}

// IsMuted reports whether a username currently holds an unexpired mute.
// An expired entry is removed from memory on first read past its deadline;
// the persistent row is left for the next explicit write to clean up.
func (m *Moderation) IsMuted(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.mutes[username]
	if !ok {
		return false
	}
	if entry.Expired(m.now()) {
		delete(m.mutes, username)
		return false
	}
	return true
}

// Ban records a ban for a username. A zero duration means the ban is
// permanent; otherwise it lapses after d. Bans are purely persistent, the
// gate is applied at login time.
func (m *Moderation) Ban(username, reason, bannedBy string, d time.Duration) error {
	st := m.store.NonTx()
	expiresAt := st.ZeroTime()
	if d > 0 {
		expiresAt = m.now().Add(d)
	}
	if err := st.CreateBan(username, reason, bannedBy, expiresAt); err != nil {
		return fmt.Errorf("server: ban %s: %w", username, err)
	}
	return nil
}

// Unban removes all ban rows for a username. Idempotent.
func (m *Moderation) Unban(username string) error {
	if err := m.store.NonTx().DeleteBans(username); err != nil {
		return fmt.Errorf("server: unban %s: %w", username, err)
	}
	return nil
}

// ActiveBans returns the ban rows still in effect, for startup reporting
// and admin tooling.
func (m *Moderation) ActiveBans() ([]model.Ban, error) {
	bans, err := m.store.NonTx().ListBans()
	if err != nil {
		return nil, fmt.Errorf("server: list bans: %w", err)
	}
	now := m.now()
	var active []model.Ban
	for _, b := range bans {
		if b.Active(now) {
			active = append(active, b)
		}
	}
	return active, nil
}

// IsBanned reports whether a username has an active ban row.
func (m *Moderation) IsBanned(username string) (bool, error) {
	banned, err := m.store.NonTx().IsBanned(username)
	if err != nil {
		return false, fmt.Errorf("server: ban lookup %s: %w", username, err)
	}
	return banned, nil
}
