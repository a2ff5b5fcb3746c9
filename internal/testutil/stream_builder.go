package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hupe1980/chatsync/core"
)

// StreamBuilder provides a fluent helper for constructing raw event byte
// streams in tests. Example:
//
//	r := NewStreamBuilder().Status("Thinking...", 1, "thinking", false).Content("Hello").Done(nil, "").Reader()
//
// Chain only the frames you need; each frame is emitted in the service's
// `data: {json}` + blank line wire format.
type StreamBuilder struct {
	buf bytes.Buffer
}

// NewStreamBuilder creates an empty builder.
func NewStreamBuilder() *StreamBuilder { return &StreamBuilder{} }

func (b *StreamBuilder) frame(payload map[string]any) *StreamBuilder {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("testutil: failed to marshal frame: %v", err))
	}
	b.buf.WriteString("data: ")
	b.buf.Write(raw)
	b.buf.WriteString("\n\n")
	return b
}

// Session appends a session correlation frame (chainable).
func (b *StreamBuilder) Session(id string) *StreamBuilder {
	return b.frame(map[string]any{"type": "session", "sessionId": id})
}

// Status appends a status frame (chainable).
func (b *StreamBuilder) Status(message string, step int, icon string, canSkip bool) *StreamBuilder {
	return b.frame(map[string]any{"type": "status", "message": message, "step": step, "icon": icon, "canSkip": canSkip})
}

// Search appends a search upsert frame built from the entry (chainable).
func (b *StreamBuilder) Search(entry core.SearchEntry) *StreamBuilder {
	payload := map[string]any{
		"type":      "search",
		"query":     entry.Query,
		"iteration": entry.Iteration,
		"status":    string(entry.Status),
	}
	if entry.QueryIndex != nil {
		payload["queryIndex"] = *entry.QueryIndex
	}
	if entry.Sources != nil {
		payload["sources"] = entry.Sources
	}
	if entry.TextPreview != "" {
		payload["textPreview"] = entry.TextPreview
	}
	return b.frame(payload)
}

// TextPreview appends a live preview frame (chainable).
func (b *StreamBuilder) TextPreview(text string) *StreamBuilder {
	return b.frame(map[string]any{"type": "text_preview", "text": text})
}

// Content appends a content delta frame using the service's "data" key (chainable).
func (b *StreamBuilder) Content(delta string) *StreamBuilder {
	return b.frame(map[string]any{"type": "content", "data": delta})
}

// Done appends the terminal done frame (chainable).
func (b *StreamBuilder) Done(history []core.SearchEntry, rawSearchData string) *StreamBuilder {
	payload := map[string]any{"type": "done"}
	if history != nil {
		payload["searchHistory"] = history
	}
	if rawSearchData != "" {
		payload["rawSearchData"] = rawSearchData
	}
	return b.frame(payload)
}

// Error appends the terminal error frame (chainable).
func (b *StreamBuilder) Error(message string) *StreamBuilder {
	return b.frame(map[string]any{"type": "error", "message": message})
}

// Raw appends an arbitrary line verbatim plus newline, for malformed-frame
// and non-data-line cases (chainable).
func (b *StreamBuilder) Raw(line string) *StreamBuilder {
	b.buf.WriteString(line)
	b.buf.WriteString("\n")
	return b
}

// Bytes returns the accumulated stream bytes.
func (b *StreamBuilder) Bytes() []byte { return b.buf.Bytes() }

// Reader returns the stream as an io.ReadCloser, as a session consumes it.
func (b *StreamBuilder) Reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b.Bytes()))
}

// ChunkedReader returns the stream split into fixed-size chunks so tests can
// exercise logical lines straddling network chunk boundaries.
func (b *StreamBuilder) ChunkedReader(size int) io.ReadCloser {
	return io.NopCloser(&chunkReader{data: b.Bytes(), size: size})
}

// chunkReader yields at most size bytes per Read call.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}
