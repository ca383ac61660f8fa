// Package twin holds the arm state as the visualisation sees it and the
// contracts between the messaging layer and its consumers.
package twin

import (
	"time"

	"github.com/banshee-data/twin.bridge/internal/anglemap"
	"github.com/banshee-data/twin.bridge/internal/protocol"
)

// Reading is the most recent merged sensor state. Joint angles are in
// presentation space, whole degrees in (-180, 180].
type Reading struct {
	JointA   int   `json:"joint_a"`
	JointB   int   `json:"joint_b"`
	JointC   int   `json:"joint_c"`
	Plate    int   `json:"plate"`
	Distance int64 `json:"distance"`

	// Sequence counts merged Sensors messages since the endpoint opened.
	Sequence  uint64    `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Merge applies the fields present in d. Absent fields keep their previous
// values. It reports whether anything was applied; Sequence and UpdatedAt
// only move when it was.
func (r *Reading) Merge(d protocol.Delta, at time.Time) bool {
	if d.Empty() {
		return false
	}
	if d.A != nil {
		r.JointA = anglemap.PresentationA(*d.A)
	}
	if d.B != nil {
		r.JointB = anglemap.PresentationB(*d.B)
	}
	if d.C != nil {
		r.JointC = anglemap.PresentationC(*d.C)
	}
	if d.Plate != nil {
		r.Plate = *d.Plate
	}
	if d.Dist != nil {
		r.Distance = *d.Dist
	}
	r.Sequence++
	r.UpdatedAt = at
	return true
}

// Joint returns the presentation angle of j.
func (r Reading) Joint(j anglemap.Joint) int {
	switch j {
	case anglemap.JointB:
		return r.JointB
	case anglemap.JointC:
		return r.JointC
	default:
		return r.JointA
	}
}

// Valid reports whether at least one Sensors message has been merged.
func (r Reading) Valid() bool {
	return r.Sequence > 0
}
