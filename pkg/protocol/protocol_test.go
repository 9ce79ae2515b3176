package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// rwc is an in-memory stream for codec tests: reads come from in, writes
// accumulate in out.
type rwc struct {
	in  *bytes.Buffer
	out *bytes.Buffer
	mu  sync.Mutex
}

func newRWC(input string) *rwc {
	return &rwc{in: bytes.NewBufferString(input), out: &bytes.Buffer{}}
}

func (f *rwc) Read(p []byte) (int, error) { return f.in.Read(p) }
func (f *rwc) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}
func (f *rwc) Close() error { return nil }

func (f *rwc) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func TestReadMessageOnePerRead(t *testing.T) {
	// Two logical messages arriving in one burst must come out as two reads.
	c := NewCodec(newRWC("hello\nworld\n"))

	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("first ReadMessage: %v", err)
	}
	if msg != "hello" {
		t.Errorf("first message = %q, want %q", msg, "hello")
	}

	msg, err = c.ReadMessage()
	if err != nil {
		t.Fatalf("second ReadMessage: %v", err)
	}
	if msg != "world" {
		t.Errorf("second message = %q, want %q", msg, "world")
	}

	if _, err := c.ReadMessage(); err != io.EOF {
		t.Errorf("expected io.EOF after last message, got %v", err)
	}
}

func TestReadMessageCRLF(t *testing.T) {
	c := NewCodec(newRWC("hello\r\n"))
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg != "hello" {
		t.Errorf("message = %q, want %q", msg, "hello")
	}
}

func TestReadMessageEmptyLine(t *testing.T) {
	c := NewCodec(newRWC("\n"))
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg != "" {
		t.Errorf("message = %q, want empty", msg)
	}
}

func TestReadMessageTooLong(t *testing.T) {
	c := NewCodec(newRWC(strings.Repeat("x", MaxMessageSize+10) + "\n"))
	if _, err := c.ReadMessage(); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
}

func TestReadMessagePartialBeforeClose(t *testing.T) {
	// Peer closed mid-line; the partial line is still one logical message.
	c := NewCodec(newRWC("unterminated"))
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg != "unterminated" {
		t.Errorf("message = %q, want %q", msg, "unterminated")
	}
	if _, err := c.ReadMessage(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestWriteMessageAppendsTerminator(t *testing.T) {
	stream := newRWC("")
	c := NewCodec(stream)

	if err := c.WriteMessage("hi there"); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if got := stream.written(); got != "hi there\n" {
		t.Errorf("wire bytes = %q, want %q", got, "hi there\n")
	}
}

func TestWriteRawNoTerminator(t *testing.T) {
	stream := newRWC("")
	c := NewCodec(stream)

	if err := c.WriteRaw(PromptUsername); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if got := stream.written(); got != PromptUsername {
		t.Errorf("wire bytes = %q, want %q", got, PromptUsername)
	}
}

func TestClosedCodecReportsErrClosed(t *testing.T) {
	c := NewCodec(newRWC("pending\n"))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close: got %v, want ErrClosed", err)
	}
	if _, err := c.ReadMessage(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadMessage after close: got %v, want ErrClosed", err)
	}
	if err := c.WriteMessage("hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteMessage after close: got %v, want ErrClosed", err)
	}
	if err := c.WriteRaw("hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteRaw after close: got %v, want ErrClosed", err)
	}
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	stream := newRWC("")
	c := NewCodec(stream)

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			line := strings.Repeat(string(rune('a'+id)), 64)
			for j := 0; j < perWriter; j++ {
				if err := c.WriteMessage(line); err != nil {
					t.Errorf("WriteMessage: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(stream.written(), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	for _, line := range lines {
		if len(line) != 64 || strings.Count(line, line[:1]) != 64 {
			t.Fatalf("interleaved line on the wire: %q", line)
		}
	}
}
