package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WireLayout is the format the backend expects for scheduled_at.
const WireLayout = "2006-01-02T15:04"

// Layouts accepted when decoding backend timestamps. Zone-less values are
// read in local time, which is how the backend writes them.
var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	WireLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Timestamp is an optional point in time. The zero value means absent.
type Timestamp struct {
	time.Time
}

// At wraps t.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses any accepted layout. Blank input yields the zero value.
func ParseTimestamp(v string) (Timestamp, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Timestamp{}, nil
	}
	for _, layout := range parseLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, v)
		} else {
			t, err = time.ParseInLocation(layout, v, time.Local)
		}
		if err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", v)
}

// Wire formats the value the way the backend stores schedule times.
func (t Timestamp) Wire() string {
	if t.IsZero() {
		return ""
	}
	return t.In(time.Local).Format(WireLayout)
}

// Ptr returns a pointer to a copy, handy for patches.
func (t Timestamp) Ptr() *Timestamp {
	return &t
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Wire())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
