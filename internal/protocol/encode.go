package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field is one segment of an outbound message. An empty Key renders the value
// on its own.
type Field struct {
	Key   string
	Value string
}

func (f Field) String() string {
	if f.Key == "" {
		return f.Value
	}
	return f.Key + ":" + f.Value
}

// Int renders v rounded to the nearest integer.
func Int(key string, v float64) Field {
	return Field{Key: key, Value: strconv.FormatInt(int64(math.Round(v)), 10)}
}

// Float renders v with the fewest digits that parse back to the same value.
func Float(key string, v float64) Field {
	return Field{Key: key, Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

// Word renders v verbatim.
func Word(key, v string) Field {
	return Field{Key: key, Value: v}
}

// Bare renders a value without a key, as in "LED|1".
func Bare(v string) Field {
	return Field{Value: v}
}

// Encode joins domain and fields with the pipe separator. No validation is
// performed on keys or values.
func Encode(domain string, fields ...Field) string {
	var b strings.Builder
	b.WriteString(domain)
	for _, f := range fields {
		b.WriteString(Separator)
		b.WriteString(f.String())
	}
	return b.String()
}

// MotorState is the digital output driven by the "D" field.
type MotorState string

const (
	MotorStart MotorState = "start"
	MotorStop  MotorState = "stop"
)

// ParseMotorState accepts "start"/"stop" and the on/off aliases.
func ParseMotorState(s string) (MotorState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start", "on", "1", "true":
		return MotorStart, nil
	case "stop", "off", "0", "false":
		return MotorStop, nil
	}
	return "", fmt.Errorf("unknown motor state %q", s)
}

// ServoCommand renders a servo target message. a, b and c are already in
// device command space.
func ServoCommand(a, b, c int, motor MotorState) string {
	return Encode(DomainServo,
		Int(KeyA, float64(a)),
		Int(KeyB, float64(b)),
		Int(KeyC, float64(c)),
		Word(KeyMotor, string(motor)),
	)
}

// LEDCommand renders "LED|1" or "LED|0".
func LEDCommand(on bool) string {
	v := "0"
	if on {
		v = "1"
	}
	return Encode(DomainLED, Bare(v))
}

// MotorCommand renders the standalone "D:start" or "D:stop" message.
func MotorCommand(state MotorState) string {
	return Word(KeyMotor, string(state)).String()
}

// SensorsMessage renders a Sensors message for the fields present in d, in
// wire order. Angles keep their fractional part so Decode returns them
// unchanged.
func SensorsMessage(d Delta) string {
	var fields []Field
	if d.A != nil {
		fields = append(fields, Float(KeyA, *d.A))
	}
	if d.B != nil {
		fields = append(fields, Float(KeyB, *d.B))
	}
	if d.C != nil {
		fields = append(fields, Float(KeyC, *d.C))
	}
	if d.Plate != nil {
		fields = append(fields, Int(KeyPlate, float64(*d.Plate)))
	}
	if d.Dist != nil {
		fields = append(fields, Field{Key: KeyDist, Value: strconv.FormatInt(*d.Dist, 10)})
	}
	return Encode(TagSensors, fields...)
}
