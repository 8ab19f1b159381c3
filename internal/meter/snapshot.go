package meter

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Attribute keys for the derived fields
const (
	AttrGap   = "gap"
	AttrPower = "power"
)

// Snapshot is the most recent complete set of decoded and derived
// measurements of one meter. A published Snapshot is never modified.
type Snapshot struct {
	Timestamp time.Time

	// Values holds scaled numeric channels keyed by OBIS code.
	Values map[string]float64
	// Text holds octet-string channels (server ID, manufacturer) as hex.
	Text map[string]string
	// Units holds the unit symbol of every channel that carried one.
	Units map[string]string

	// Gap is the number of seconds since the previous snapshot.
	Gap    float64
	HasGap bool

	// Power is the scaled instantaneous active power.
	Power    float64
	HasPower bool
}

// Value returns the scaled value of a numeric channel.
func (s Snapshot) Value(code string) (float64, bool) {
	v, ok := s.Values[code]
	return v, ok
}

// Attributes flattens the snapshot into the key/value mapping handed to
// the host platform: channel codes plus "gap" and "power" when present.
func (s Snapshot) Attributes() map[string]interface{} {
	attrs := make(map[string]interface{}, len(s.Values)+len(s.Text)+2)
	for code, v := range s.Values {
		attrs[code] = v
	}
	for code, v := range s.Text {
		attrs[code] = v
	}
	if s.HasGap {
		attrs[AttrGap] = s.Gap
	}
	if s.HasPower {
		attrs[AttrPower] = s.Power
	}
	return attrs
}

// Codes returns all channel codes in the snapshot, sorted.
func (s Snapshot) Codes() []string {
	codes := make([]string, 0, len(s.Values)+len(s.Text))
	for code := range s.Values {
		codes = append(codes, code)
	}
	for code := range s.Text {
		if _, dup := s.Values[code]; !dup {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Values = make(map[string]float64, len(s.Values))
	for k, v := range s.Values {
		out.Values[k] = v
	}
	out.Text = make(map[string]string, len(s.Text))
	for k, v := range s.Text {
		out.Text[k] = v
	}
	out.Units = make(map[string]string, len(s.Units))
	for k, v := range s.Units {
		out.Units[k] = v
	}
	return out
}

// String returns a compact debug representation
func (s Snapshot) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Snapshot{at=%s", s.Timestamp.Format(time.RFC3339Nano))
	if s.HasPower {
		fmt.Fprintf(&sb, ", power=%g", s.Power)
	}
	if s.HasGap {
		fmt.Fprintf(&sb, ", gap=%.3fs", s.Gap)
	}
	fmt.Fprintf(&sb, ", channels=%d}", len(s.Values)+len(s.Text))
	return sb.String()
}
