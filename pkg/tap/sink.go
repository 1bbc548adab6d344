package tap

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sternrassler/sunwave-tap/pkg/schema"
	"github.com/Sternrassler/sunwave-tap/pkg/stream"
)

// Message types written by JSONLinesSink.
const (
	MessageRecord = "RECORD"
	MessageSchema = "SCHEMA"
	MessageState  = "STATE"
)

// Sink receives extracted data. Implementations must be safe for
// concurrent use; records of one stream arrive in page order.
type Sink interface {
	WriteSchema(stream string, s schema.Schema, keyProperties []string, bookmarkProperties []string) error
	WriteRecord(stream string, record stream.Record) error
	WriteState(bookmarks map[string]string) error
}

type recordMessage struct {
	Type          string        `json:"type"`
	Stream        string        `json:"stream"`
	Record        stream.Record `json:"record"`
	TimeExtracted string        `json:"time_extracted"`
}

type schemaMessage struct {
	Type               string        `json:"type"`
	Stream             string        `json:"stream"`
	Schema             schema.Schema `json:"schema"`
	KeyProperties      []string      `json:"key_properties"`
	BookmarkProperties []string      `json:"bookmark_properties,omitempty"`
}

type stateMessage struct {
	Type  string            `json:"type"`
	Value map[string]string `json:"value"`
}

// JSONLinesSink writes one JSON message per line.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewJSONLinesSink writes messages to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLinesSink{
		enc: enc,
		now: time.Now,
	}
}

// WriteSchema writes a SCHEMA message.
func (s *JSONLinesSink) WriteSchema(name string, sc schema.Schema, keyProperties []string, bookmarkProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return s.write(schemaMessage{
		Type:               MessageSchema,
		Stream:             name,
		Schema:             sc,
		KeyProperties:      keyProperties,
		BookmarkProperties: bookmarkProperties,
	})
}

// WriteRecord writes a RECORD message.
func (s *JSONLinesSink) WriteRecord(name string, record stream.Record) error {
	return s.write(recordMessage{
		Type:          MessageRecord,
		Stream:        name,
		Record:        record,
		TimeExtracted: s.now().UTC().Format(time.RFC3339),
	})
}

// WriteState writes a STATE message whose value is the bookmark map.
func (s *JSONLinesSink) WriteState(bookmarks map[string]string) error {
	if bookmarks == nil {
		bookmarks = map[string]string{}
	}
	return s.write(stateMessage{Type: MessageState, Value: bookmarks})
}

func (s *JSONLinesSink) write(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
