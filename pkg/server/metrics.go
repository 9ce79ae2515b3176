package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current active connections
	FailedAuths       atomic.Int64 // failed authentication attempts
	SuccessfulAuths   atomic.Int64 // successful authentication attempts
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Message counters
	MessagesBroadcast atomic.Int64 // chat lines fanned out server-wide
	RoomBroadcasts    atomic.Int64 // chat lines fanned out to a room
	PrivateMessages   atomic.Int64 // private messages relayed

	// Room counters
	RoomsCreated atomic.Int64 // rooms created during this run
	RoomsDeleted atomic.Int64 // rooms deleted during this run

	// Moderation counters
	KickCount atomic.Int64 // users kicked
	BanCount  atomic.Int64 // users banned (permanent + temporary)
	MuteCount atomic.Int64 // users muted
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	MessagesBroadcast int64 `json:"messages_broadcast"`
	RoomBroadcasts    int64 `json:"room_broadcasts"`
	PrivateMessages   int64 `json:"private_messages"`

	RoomsCreated int64 `json:"rooms_created"`
	RoomsDeleted int64 `json:"rooms_deleted"`

	KickCount int64 `json:"kick_count"`
	BanCount  int64 `json:"ban_count"`
	MuteCount int64 `json:"mute_count"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		MessagesBroadcast: m.MessagesBroadcast.Load(),
		RoomBroadcasts:    m.RoomBroadcasts.Load(),
		PrivateMessages:   m.PrivateMessages.Load(),
		RoomsCreated:      m.RoomsCreated.Load(),
		RoomsDeleted:      m.RoomsDeleted.Load(),
		KickCount:         m.KickCount.Load(),
		BanCount:          m.BanCount.Load(),
		MuteCount:         m.MuteCount.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"broadcasts", s.MessagesBroadcast,
		"room_broadcasts", s.RoomBroadcasts,
		"private_messages", s.PrivateMessages,
		"rooms", s.RoomsCreated-s.RoomsDeleted,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
