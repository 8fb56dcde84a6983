package supervisor

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/mcpherd/mcpherd/internal/eventbus"
)

const maxLogLineLength = 2048

// lineWriter publishes a child's stdout/stderr lines on the event bus.
type lineWriter struct {
	bus    *eventbus.Bus
	server string
	stream eventbus.LogStream

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(bus *eventbus.Bus, server string, stream eventbus.LogStream) *lineWriter {
	return &lineWriter{
		bus:    bus,
		server: server,
		stream: stream,
	}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.bus == nil {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.buf.Write(p); err != nil {
		return 0, err
	}

	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(data[:idx], "\r"))
		w.publish(line)
		w.buf.Next(idx + 1)
	}

	// Flush if the buffer grows excessively without a newline.
	if w.buf.Len() > 16*1024 {
		line := strings.TrimSpace(w.buf.String())
		if line != "" {
			w.publish(line)
		}
		w.buf.Reset()
	}

	return len(p), nil
}

func (w *lineWriter) Close() {
	if w.bus == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.publish(strings.TrimSpace(w.buf.String()))
		w.buf.Reset()
	}
}

func (w *lineWriter) publish(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	line, _ = limitLogLine(line)
	w.bus.Publish(context.Background(), eventbus.Envelope{
		Topic:  eventbus.TopicServerLog,
		Source: "supervisor",
		Payload: eventbus.ServerLogEvent{
			Server: w.server,
			Stream: w.stream,
			Line:   line,
		},
	})
}

func limitLogLine(line string) (string, bool) {
	runes := []rune(line)
	if len(runes) <= maxLogLineLength {
		return line, false
	}
	truncated := strings.TrimSpace(string(runes[:maxLogLineLength]))
	if truncated == "" {
		truncated = string(runes[:maxLogLineLength])
	}
	return truncated + " [truncated]", true
}
