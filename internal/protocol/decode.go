// Package protocol implements the pipe-delimited text messages exchanged with
// the arm controller.
//
// Inbound telemetry looks like
//
//	Sensors|A:12|B:-3|C:40|Plate:7|Dist:150
//
// and outbound commands like
//
//	Servo|A:90|B:150|C:90|D:stop
//	LED|1
//	D:start
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	TagSensors = "Sensors"

	DomainServo = "Servo"
	DomainLED   = "LED"
	DomainMotor = "D"

	Separator = "|"
)

// Field keys carried by a Sensors message.
const (
	KeyA     = "A"
	KeyB     = "B"
	KeyC     = "C"
	KeyPlate = "Plate"
	KeyDist  = "Dist"
	KeyMotor = "D"
)

// ErrNotSensors is returned for text that does not carry the Sensors tag.
var ErrNotSensors = errors.New("not a Sensors message")

// FieldError describes one field whose value could not be parsed.
type FieldError struct {
	Key   string
	Value string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %s=%q: %v", e.Key, e.Value, e.Err)
}

// DecodeError is returned by Decode. Either Err is set (the message was
// rejected outright) or Fields lists the fields that were skipped.
type DecodeError struct {
	Text   string
	Err    error
	Fields []FieldError
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %v", truncate(e.Text, 64), e.Err)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("decode %q: %s", truncate(e.Text, 64), strings.Join(parts, "; "))
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Rejected reports whether the whole message was refused rather than
// partially decoded.
func (e *DecodeError) Rejected() bool { return e.Err != nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Delta holds the fields present in one Sensors message. Angles are raw
// device values; nil means the field was absent or unparseable.
type Delta struct {
	A, B, C *float64
	Plate   *int
	Dist    *int64
}

// Empty reports whether no field was decoded.
func (d Delta) Empty() bool {
	return d.A == nil && d.B == nil && d.C == nil && d.Plate == nil && d.Dist == nil
}

// IsSensors reports whether text carries the Sensors tag.
func IsSensors(text string) bool {
	return strings.HasPrefix(text, TagSensors)
}

// Decode parses a Sensors message. Unknown segments are ignored and a later
// occurrence of a key replaces an earlier one. A field with a malformed value
// is skipped; the remaining fields are still returned alongside a
// *DecodeError listing what was skipped.
func Decode(text string) (Delta, error) {
	var d Delta
	if !IsSensors(text) {
		return d, &DecodeError{Text: text, Err: ErrNotSensors}
	}

	var bad []FieldError
	for _, seg := range strings.Split(text, Separator) {
		seg = strings.TrimSpace(seg)
		key, value, ok := strings.Cut(seg, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch key {
		case KeyA, KeyB, KeyC:
			f, err := parseAngle(value)
			if err != nil {
				bad = append(bad, FieldError{Key: key, Value: value, Err: err})
				continue
			}
			switch key {
			case KeyA:
				d.A = &f
			case KeyB:
				d.B = &f
			default:
				d.C = &f
			}
		case KeyPlate:
			n, err := strconv.Atoi(value)
			if err != nil {
				bad = append(bad, FieldError{Key: key, Value: value, Err: err})
				continue
			}
			d.Plate = &n
		case KeyDist:
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				bad = append(bad, FieldError{Key: key, Value: value, Err: err})
				continue
			}
			d.Dist = &n
		}
	}

	if len(bad) > 0 {
		return d, &DecodeError{Text: text, Fields: bad}
	}
	return d, nil
}

var errNotFinite = errors.New("value is not finite")

func parseAngle(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}
