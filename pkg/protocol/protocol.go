// Package protocol implements the newline-delimited text framing used between
// chatline clients and the server, plus the session bootstrap vocabulary.
//
// The wire format is UTF-8 text lines. Each logical message is one line
// terminated by '\n' (a preceding '\r' is tolerated and stripped), so one
// codec read always yields exactly one complete message - raw socket reads
// can never merge or split messages.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MaxMessageSize is the maximum length of a single logical message in bytes,
// excluding the line terminator.
const MaxMessageSize = 4096

var (
	ErrMessageTooLong = fmt.Errorf("protocol: message exceeds %d bytes", MaxMessageSize)
	ErrClosed         = errors.New("protocol: connection closed")
)

// Session bootstrap prompts and replies. Clients match replies by substring
// ("failed" / "Invalid"), so the exact wording is part of the protocol.
const (
	PromptMode     = "Do you want to login, register, or admin? (login/register/admin): "
	PromptUsername = "Enter username: "
	PromptPassword = "Enter password: "

	ReplyLoginOK    = "Login successful"
	ReplyRegisterOK = "Registration successful"
	ReplyAdminOK    = "Admin login successful"

	ReplyInvalidChoice           = "Invalid choice. Connection closed."
	ReplyInvalidCredentials      = "Invalid credentials. Try again."
	ReplyInvalidAdminCredentials = "Invalid admin credentials. Try again."
	ReplyRegistrationFailed      = "Registration failed. Please try again."
	ReplyBanned                  = "You are banned from this server."
)

// readDeadliner is the subset of net.Conn the codec uses for read timeouts.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Codec frames discrete messages over a byte stream. Reads must come from a
// single goroutine; writes are serialized internally so broadcast fan-out from
// multiple goroutines cannot interleave partial lines on the wire.
type Codec struct {
	rwc    io.ReadWriteCloser
	r      *bufio.Reader
	wmu    sync.Mutex
	closed atomic.Bool
}

// NewCodec wraps a stream connection in a message codec.
func NewCodec(rwc io.ReadWriteCloser) *Codec {
	return &Codec{
		rwc: rwc,
		// +1 so a maximum-size message plus its '\n' fits in the buffer and
		// ErrBufferFull reliably means the peer exceeded the limit.
		r: bufio.NewReaderSize(rwc, MaxMessageSize+1),
	}
}

// ReadMessage reads exactly one logical message. The returned string has the
// line terminator stripped. A message longer than MaxMessageSize is a fatal
// framing error.
func (c *Codec) ReadMessage() (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	raw, err := c.r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", ErrMessageTooLong
		}
		if errors.Is(err, io.EOF) && len(raw) == 0 {
			return "", io.EOF
		}
		if len(raw) == 0 {
			return "", fmt.Errorf("protocol: read: %w", err)
		}
		// Peer closed mid-line; deliver what arrived, next read reports EOF.
	}
	line := strings.TrimRight(string(raw), "\r\n")
	if len(line) > MaxMessageSize {
		return "", ErrMessageTooLong
	}
	return line, nil
}

// WriteMessage writes one logical message followed by the line terminator.
// Safe for concurrent use.
func (c *Codec) WriteMessage(text string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if _, err := io.WriteString(c.rwc, text+"\n"); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// WriteRaw writes text without a terminator. Used for the bootstrap prompts,
// which the original clients display as-is while waiting for input.
func (c *Codec) WriteRaw(text string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if _, err := io.WriteString(c.rwc, text); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// SetReadDeadline bounds the next ReadMessage when the underlying stream
// supports deadlines (a net.Conn does). No-op otherwise.
func (c *Codec) SetReadDeadline(t time.Time) error {
	if d, ok := c.rwc.(readDeadliner); ok {
		return d.SetReadDeadline(t)
	}
	return nil
}

// Close closes the underlying stream. Idempotent: later calls and any
// subsequent reads or writes report ErrClosed.
func (c *Codec) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	return c.rwc.Close()
}
