package findings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/accesslens/accesslens/internal/model"
	"github.com/google/uuid"
)

const (
	maxNoteLen  = 2000
	maxDueAtLen = 80
)

// Optional is a JSON field that can be absent, null, or hold a value.
type Optional[T any] struct {
	Set   bool // key was present
	Valid bool // value was not null
	Value T
}

// Some returns a present, non-null Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Valid: true, Value: v} }

// Null returns a present, null Optional.
func Null[T any]() Optional[T] { return Optional[T]{Set: true} }

// Ptr returns the value as a pointer, nil when null or absent.
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Valid = false
		var zero T
		o.Value = zero
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler. Absent and null both encode as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Payload is one analyst-submitted change-set. Every field is optional.
type Payload struct {
	Status      Optional[model.ActionStatus] `json:"status"`
	AssignedTo  Optional[string]             `json:"assignedTo"`
	Priority    Optional[model.Priority]     `json:"priority"`
	DueAt       Optional[string]             `json:"dueAt"`
	Disposition Optional[model.Disposition]  `json:"disposition"`
	Note        Optional[string]             `json:"note"`
}

// Empty reports whether no field was supplied at all.
func (p Payload) Empty() bool {
	return !p.Status.Set && !p.AssignedTo.Set && !p.Priority.Set &&
		!p.DueAt.Set && !p.Disposition.Set && !p.Note.Set
}

// ParsePayload decodes and validates a JSON action payload. Unknown keys
// are ignored; a payload that supplies no known key is rejected.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, newError(KindValidation, "invalid payload: %v", err)
	}
	if p.Empty() {
		return Payload{}, newError(KindValidation, "at least one action field must be provided")
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	if p.Note.Valid {
		p.Note.Value = strings.TrimSpace(p.Note.Value)
	}
	if p.DueAt.Valid {
		p.DueAt.Value = strings.TrimSpace(p.DueAt.Value)
	}
	return p, nil
}

// Validate checks field shapes. It does not check emptiness, which is
// the decoder's concern, nor anything that needs the current finding.
func (p Payload) Validate() error {
	if p.Status.Set {
		if !p.Status.Valid {
			return newError(KindValidation, "status cannot be null")
		}
		if _, err := model.ParseActionStatus(string(p.Status.Value)); err != nil {
			return newError(KindValidation, "%v", err)
		}
	}
	if p.AssignedTo.Valid {
		if _, err := uuid.Parse(p.AssignedTo.Value); err != nil {
			return newError(KindValidation, "assignedTo must be a UUID")
		}
	}
	if p.Priority.Valid {
		if _, err := model.ParsePriority(string(p.Priority.Value)); err != nil {
			return newError(KindValidation, "%v", err)
		}
	}
	if p.DueAt.Valid && utf8.RuneCountInString(strings.TrimSpace(p.DueAt.Value)) > maxDueAtLen {
		return newError(KindValidation, "dueAt must be at most %d characters", maxDueAtLen)
	}
	if p.Disposition.Valid {
		if _, err := model.ParseDisposition(string(p.Disposition.Value)); err != nil {
			return newError(KindValidation, "%v", err)
		}
	}
	if p.Note.Valid && utf8.RuneCountInString(strings.TrimSpace(p.Note.Value)) > maxNoteLen {
		return newError(KindValidation, "note must be at most %d characters", maxNoteLen)
	}
	return nil
}

// dueAtLayouts are tried in order. Values without a zone are read as UTC.
var dueAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDueAt normalises a due date to RFC 3339 UTC with millisecond
// precision. Blank input clears the date and returns nil.
func ParseDueAt(raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := parseTime(raw)
	if err != nil {
		return nil, err
	}
	s := t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return &s, nil
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range dueAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
