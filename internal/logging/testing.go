package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// Capture is a test logger that records every event as a JSON line.
type Capture struct {
	Logger zerolog.Logger

	t   testing.TB
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewCapture creates a trace-level logger writing into an in-memory buffer.
func NewCapture(t testing.TB) *Capture {
	t.Helper()

	c := &Capture{t: t}
	c.Logger = zerolog.New(c).Level(zerolog.TraceLevel)
	return c
}

// Write implements io.Writer for the captured logger.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Events decodes every captured line.
func (c *Capture) Events() []map[string]any {
	c.t.Helper()

	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var events []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			c.t.Fatalf("undecodable log line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

// Named returns the captured events whose event field equals name.
func (c *Capture) Named(name string) []map[string]any {
	var out []map[string]any
	for _, ev := range c.Events() {
		if ev[EventKey] == name {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the number of captured events with the given name.
func (c *Capture) Count(name string) int {
	return len(c.Named(name))
}

// Names returns the event names in emission order.
func (c *Capture) Names() []string {
	var names []string
	for _, ev := range c.Events() {
		if name, ok := ev[EventKey].(string); ok {
			names = append(names, name)
		}
	}
	return names
}
