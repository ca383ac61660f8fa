package protocol

import "strings"

// Kind is a coarse classification of a message, used for logging and for
// routing lines from the serial console.
type Kind string

const (
	KindSensors Kind = "sensors"
	KindServo   Kind = "servo"
	KindLED     Kind = "led"
	KindMotor   Kind = "motor"
	KindUnknown Kind = "unknown"
)

// Classify inspects text by its leading tag.
func Classify(text string) Kind {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, TagSensors):
		return KindSensors
	case strings.HasPrefix(text, DomainServo+Separator):
		return KindServo
	case strings.HasPrefix(text, DomainLED+Separator):
		return KindLED
	case strings.HasPrefix(text, KeyMotor+":"):
		return KindMotor
	}
	return KindUnknown
}
