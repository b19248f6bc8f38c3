package draft

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/jsonq"
)

// Known payload fields.  Everything else in a payload is carried opaquely.
const (
	FieldTitle       = "title"
	FieldContent     = "content"
	FieldMedia       = "media"
	FieldContentType = "content_type"
	FieldFlags       = "flags"
)

// MaxTitleLength is the longest title, in runes, the store accepts.
const MaxTitleLength = 255

// A Payload is the structured authoring state of a draft: title, body,
// media references, content type selection and feature flags.  Apart from
// title and content it is treated as an opaque JSON object.
type Payload map[string]any

// NewPayload returns a payload carrying only a title and content.
func NewPayload(title, content string) Payload {
	return Payload{FieldTitle: title, FieldContent: content}
}

func (p Payload) query() *jsonq.JsonQuery {
	return jsonq.NewQuery(map[string]interface{}(p))
}

// Title returns the payload's title, or "" if it has none.
func (p Payload) Title() string {
	s, err := p.query().String(FieldTitle)
	if err != nil {
		return ""
	}
	return s
}

// Content returns the payload's body, or "" if it has none.
func (p Payload) Content() string {
	s, err := p.query().String(FieldContent)
	if err != nil {
		return ""
	}
	return s
}

// IsEmpty is true when both title and content are blank.  Empty payloads are
// still valid and are still saved.
func (p Payload) IsEmpty() bool {
	return len(strings.TrimSpace(p.Title())) == 0 && len(strings.TrimSpace(p.Content())) == 0
}

// Preview returns up to max runes of content on a single line.
func (p Payload) Preview(max int) string {
	s := strings.Join(strings.Fields(p.Content()), " ")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

// Clone returns a deep copy of p with JSON-normalised values.  A nil payload
// clones to an empty one.
func (p Payload) Clone() Payload {
	out := Payload{}
	if len(p) == 0 {
		return out
	}
	b, err := json.Marshal(p)
	if err != nil {
		// values that don't encode are dropped
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	_ = json.Unmarshal(b, &out)
	return out
}

// Canonical returns the canonical JSON encoding of p.  Map keys are sorted
// by encoding/json, so equal payloads have equal encodings.
func (p Payload) Canonical() []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

// Equal reports whether p and o encode to the same JSON.
func (p Payload) Equal(o Payload) bool {
	a, b := p.Canonical(), o.Canonical()
	return a != nil && b != nil && bytes.Equal(a, b)
}

// Validate checks the fields the store cares about.
func (p Payload) Validate() error {
	if v, ok := p[FieldTitle]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return &ValidationError{Field: FieldTitle, Message: "title must be a string"}
		}
		if utf8.RuneCountInString(s) > MaxTitleLength {
			return &ValidationError{Field: FieldTitle, Message: fmt.Sprintf("title must be at most %d characters", MaxTitleLength)}
		}
	}
	if v, ok := p[FieldContent]; ok && v != nil {
		if _, ok := v.(string); !ok {
			return &ValidationError{Field: FieldContent, Message: "content must be a string"}
		}
	}
	if p.Canonical() == nil {
		return &ValidationError{Message: "payload is not representable as JSON"}
	}
	return nil
}

// Value implements driver.Valuer; payloads are stored as JSON text.
func (p Payload) Value() (driver.Value, error) {
	b := p.Canonical()
	if b == nil {
		return nil, fmt.Errorf("payload is not representable as JSON")
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("cannot scan %T into Payload", src)
	}
	out := Payload{}
	if len(bytes.TrimSpace(b)) > 0 {
		if err := json.Unmarshal(b, &out); err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}
	}
	*p = out
	return nil
}
