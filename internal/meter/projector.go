package meter

import (
	"encoding/hex"
	"time"

	"github.com/muurk/pulsemeter/internal/sml"
)

// Projector turns decoded entries into snapshots.
type Projector struct {
	// PowerCode selects the channel copied into Snapshot.Power.
	PowerCode string
}

// NewProjector returns a projector using the standard active power channel.
func NewProjector() *Projector {
	return &Projector{PowerCode: sml.CodeActivePower}
}

// Project builds a new snapshot from entries. Nothing is carried over from
// prev except its timestamp, which is used for the gap. When the same code
// appears more than once the last entry wins.
//
// Timestamps strictly increase: a now that is not after prev.Timestamp is
// moved to one nanosecond past it.
func (p *Projector) Project(entries []sml.Entry, prev *Snapshot, now time.Time) Snapshot {
	snap := Snapshot{
		Timestamp: now,
		Values:    make(map[string]float64, len(entries)),
		Text:      make(map[string]string),
		Units:     make(map[string]string),
	}

	if prev != nil {
		if !now.After(prev.Timestamp) {
			snap.Timestamp = prev.Timestamp.Add(time.Nanosecond)
		}
		snap.Gap = snap.Timestamp.Sub(prev.Timestamp).Seconds()
		snap.HasGap = true
	}

	for _, e := range entries {
		// Last write wins across types as well.
		delete(snap.Values, e.Code)
		delete(snap.Text, e.Code)
		delete(snap.Units, e.Code)

		switch e.Value.Type {
		case sml.TypeOctetString:
			snap.Text[e.Code] = hex.EncodeToString(e.Value.Bytes)
		case sml.TypeBoolean:
			if e.Value.Bool {
				snap.Values[e.Code] = 1
			} else {
				snap.Values[e.Code] = 0
			}
		default:
			snap.Values[e.Code] = Scale(e.Value.Int, e.Scaler)
		}

		if e.Unit != nil {
			if name := sml.UnitName(*e.Unit); name != "" {
				snap.Units[e.Code] = name
			}
		}
	}

	if v, ok := snap.Values[p.powerCode()]; ok {
		snap.Power = v
		snap.HasPower = true
	}

	return snap
}

func (p *Projector) powerCode() string {
	if p.PowerCode == "" {
		return sml.CodeActivePower
	}
	return p.PowerCode
}
