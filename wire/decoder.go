// Package wire implements the event frame decoder for the answer-generation
// stream. The backend emits server-sent-event style frames, one JSON object
// per line behind a fixed data marker:
//
//	data: {"type":"content","data":"…"}
//
// Network chunks may split or merge logical lines arbitrarily; the decoder
// buffers a trailing partial line across chunk boundaries and yields typed
// events in arrival order. It never reorders or deduplicates frames — search
// entry upsert semantics belong to the session accumulator.
package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/hupe1980/chatsync/core"
	"github.com/hupe1980/chatsync/logging"
)

// dataMarker prefixes every event-bearing line on the wire.
const dataMarker = "data:"

// Wire event type discriminators.
const (
	typeSession     = "session"
	typeStatus      = "status"
	typeSearch      = "search"
	typeTextPreview = "text_preview"
	typeContent     = "content"
	typeDone        = "done"
	typeError       = "error"
)

// envelope is the superset of all wire event payloads. The Type field
// discriminates; only the fields for that type are populated.
type envelope struct {
	Type string `json:"type"`

	// session
	SessionID string `json:"sessionId"`

	// status / error
	Message string `json:"message"`
	Step    int    `json:"step"`
	Icon    string `json:"icon"`
	CanSkip bool   `json:"canSkip"`

	// search
	Query       string        `json:"query"`
	Sources     []core.Source `json:"sources"`
	Iteration   int           `json:"iteration"`
	QueryIndex  *int          `json:"queryIndex"`
	Status      string        `json:"status"`
	TextPreview string        `json:"textPreview"`

	// text_preview / content (content deltas arrive under "data" on the
	// wire; "text" is accepted as an alias)
	Text string `json:"text"`
	Data string `json:"data"`

	// done
	SearchHistory []core.SearchEntry `json:"searchHistory"`
	RawSearchData string             `json:"rawSearchData"`
}

// Decoder incrementally turns a raw byte stream into typed events.
// It is not safe for concurrent use; each stream session owns exactly one.
type Decoder struct {
	reader *bufio.Reader
	logger logging.Logger
}

// NewDecoder creates a decoder over r. A nil logger is replaced with the
// no-op logger.
func NewDecoder(r io.Reader, logger logging.Logger) *Decoder {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Decoder{reader: bufio.NewReader(r), logger: logger}
}

// Next returns the next typed event from the stream. It skips blank lines,
// non-data lines and malformed payloads (logged, never fatal). It returns
// io.EOF when the stream ends; a stream that ends without a done event is the
// caller's forced-finalization signal, not a decode error.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.reader.ReadString('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}

		if ev, ok := d.decodeLine(line); ok {
			return ev, nil
		}
		if err != nil {
			// Trailing partial line consumed; surface stream end.
			return nil, err
		}
	}
}

// decodeLine parses one logical line, returning false for lines that carry
// no event (blank lines, comments, malformed payloads).
func (d *Decoder) decodeLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataMarker) {
		return nil, false
	}
	payload := strings.TrimPrefix(strings.TrimPrefix(line, dataMarker), " ")
	if payload == "" {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		d.logger.Warn("skipping malformed event frame", "error", err, "payload_len", len(payload))
		return nil, false
	}

	ev := env.toEvent()
	if ev == nil {
		d.logger.Warn("skipping event frame with unknown type", "type", env.Type)
		return nil, false
	}
	return ev, true
}

// toEvent maps a decoded envelope onto its typed event, or nil for unknown types.
func (e *envelope) toEvent() Event {
	switch e.Type {
	case typeSession:
		return SessionEvent{SessionID: e.SessionID}
	case typeStatus:
		return StatusEvent{Status: core.Status{
			Message: e.Message,
			Step:    e.Step,
			Icon:    e.Icon,
			CanSkip: e.CanSkip,
		}}
	case typeSearch:
		return SearchEvent{Entry: core.SearchEntry{
			Query:       e.Query,
			Iteration:   e.Iteration,
			QueryIndex:  e.QueryIndex,
			Sources:     e.Sources,
			Status:      core.SearchStatus(e.Status),
			TextPreview: e.TextPreview,
		}}
	case typeTextPreview:
		if e.Text != "" {
			return TextPreviewEvent{Text: e.Text}
		}
		return TextPreviewEvent{Text: e.Data}
	case typeContent:
		if e.Data != "" {
			return ContentEvent{Delta: e.Data}
		}
		return ContentEvent{Delta: e.Text}
	case typeDone:
		return DoneEvent{SearchHistory: e.SearchHistory, RawSearchData: e.RawSearchData}
	case typeError:
		return ErrorEvent{Message: e.Message}
	default:
		return nil
	}
}
