// Package anglemap converts joint angles between the device's native sensor
// space and the presentation space used by the twin, and back again for servo
// commands.
package anglemap

import (
	"fmt"
	"math"
	"strings"
)

// Joint identifies one of the three articulated joints reported by the device.
type Joint int

const (
	JointA Joint = iota
	JointB
	JointC
)

// Joints lists every joint in wire order.
var Joints = []Joint{JointA, JointB, JointC}

func (j Joint) String() string {
	switch j {
	case JointA:
		return "A"
	case JointB:
		return "B"
	case JointC:
		return "C"
	default:
		return fmt.Sprintf("Joint(%d)", int(j))
	}
}

// ParseJoint accepts "A", "B" or "C" (case-insensitive).
func ParseJoint(s string) (Joint, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return JointA, nil
	case "B":
		return JointB, nil
	case "C":
		return JointC, nil
	}
	return 0, fmt.Errorf("unknown joint %q", s)
}

// Lerp linearly interpolates between a and b. t is not clamped.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// InverseLerp returns where v sits between a and b, clamped to [0, 1].
// A degenerate range returns 0.
func InverseLerp(a, b, v float64) float64 {
	if a == b {
		return 0
	}
	return clamp((v-a)/(b-a), 0, 1)
}

// Normalize reduces deg into (-180, 180]. Non-finite input yields NaN.
func Normalize(deg float64) float64 {
	if math.IsInf(deg, 0) {
		return math.NaN()
	}
	r := math.Mod(deg, 360)
	if r > 180 {
		r -= 360
	} else if r <= -180 {
		r += 360
	}
	return r
}

// NormalizeInt is Normalize for whole degrees.
func NormalizeInt(deg int) int {
	r := deg % 360
	if r > 180 {
		r -= 360
	} else if r <= -180 {
		r += 360
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Segment maps device angles between From and To (device space) onto the
// presentation range [Start, End].
type Segment struct {
	From, To   float64
	Start, End float64
}

func (s Segment) apply(device float64) float64 {
	return Lerp(s.Start, s.End, InverseLerp(s.From, s.To, device))
}

// Curve is a piecewise mapping with a single split. Device values at or above
// Split use Upper, values below use Lower.
type Curve struct {
	Split float64
	Upper Segment
	Lower Segment
}

// Map applies the curve without normalizing.
func (c Curve) Map(device float64) float64 {
	if device >= c.Split {
		return c.Upper.apply(device)
	}
	return c.Lower.apply(device)
}

// Calibrated curves for the arm's potentiometers.
var (
	CurveA = Curve{
		Split: 0,
		Upper: Segment{From: 0, To: 84, Start: 0, End: -90},
		Lower: Segment{From: 0, To: -96, Start: 0, End: 90},
	}
	CurveB = Curve{
		Split: 14,
		Upper: Segment{From: 14, To: 121, Start: 0, End: -120},
		Lower: Segment{From: 14, To: -45, Start: 1, End: 50},
	}
	CurveC = Curve{
		Split: 8,
		Upper: Segment{From: 8, To: 90, Start: 0, End: -90},
		Lower: Segment{From: 8, To: -90, Start: 0, End: 90},
	}
)

// CurveFor returns the inbound curve of j.
func CurveFor(j Joint) (Curve, error) {
	switch j {
	case JointA:
		return CurveA, nil
	case JointB:
		return CurveB, nil
	case JointC:
		return CurveC, nil
	}
	return Curve{}, fmt.Errorf("no curve for %v", j)
}

// ToPresentation maps a raw device angle for joint j into whole presentation
// degrees within (-180, 180]. Unknown joints and non-finite input map to 0.
func ToPresentation(j Joint, device float64) int {
	c, err := CurveFor(j)
	if err != nil {
		return 0
	}
	v := Normalize(c.Map(device))
	if math.IsNaN(v) {
		return 0
	}
	return NormalizeInt(int(math.Round(v)))
}

// PresentationA, PresentationB and PresentationC are shorthands for ToPresentation.
func PresentationA(device float64) int { return ToPresentation(JointA, device) }
func PresentationB(device float64) int { return ToPresentation(JointB, device) }
func PresentationC(device float64) int { return ToPresentation(JointC, device) }
