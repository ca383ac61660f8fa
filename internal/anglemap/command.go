package anglemap

import "math"

// Servo command ranges accepted by the firmware.
const (
	ServoMinA = 0
	ServoMaxA = 180
	ServoMinB = 0
	ServoMaxB = 150
	ServoMinC = 0
	ServoMaxC = 180
)

// centredCommand maps a presentation angle onto a servo whose mechanical zero
// sits at 90. Joints A and C share this calibration.
func centredCommand(presentation float64, lo, hi float64) int {
	n := Normalize(presentation)
	if math.IsNaN(n) {
		return int((lo + hi) / 2)
	}
	return int(math.Round(clamp(90+n, lo, hi)))
}

// CommandA converts a presentation angle for joint A into a servo target.
func CommandA(presentation float64) int {
	return centredCommand(presentation, ServoMinA, ServoMaxA)
}

// CommandB converts a presentation angle for joint B into a servo target.
// Joint B is mounted inverted with its rest position at 150.
func CommandB(presentation float64) int {
	n := Normalize(presentation)
	if math.IsNaN(n) {
		return ServoMaxB
	}
	return int(math.Round(clamp(150-n, ServoMinB, ServoMaxB)))
}

// CommandC converts a presentation angle for joint C into a servo target.
func CommandC(presentation float64) int {
	return centredCommand(presentation, ServoMinC, ServoMaxC)
}

// Command dispatches to the per-joint command mapping.
func Command(j Joint, presentation float64) int {
	switch j {
	case JointB:
		return CommandB(presentation)
	case JointC:
		return CommandC(presentation)
	default:
		return CommandA(presentation)
	}
}
