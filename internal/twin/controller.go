package twin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/twin.bridge/internal/anglemap"
	"github.com/banshee-data/twin.bridge/internal/protocol"
)

// Pose is a target arm configuration in presentation degrees.
type Pose struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Presets are canned servo commands in device command space.
var Presets = map[string]string{
	"home": protocol.ServoCommand(90, 90, 90, protocol.MotorStop),
	"tilt": protocol.ServoCommand(45, 45, 45, protocol.MotorStop),
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Controller turns intent (poses, LED, motor) into command messages for the
// configured peer.
type Controller struct {
	sink Sink

	mu        sync.Mutex
	motor     protocol.MotorState
	observers []CommandObserver
}

// NewController returns a Controller with the motor considered stopped.
func NewController(sink Sink) *Controller {
	return &Controller{sink: sink, motor: protocol.MotorStop}
}

// Observe registers fn to be called after every command.
func (c *Controller) Observe(fn CommandObserver) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Controller) send(msg string) (string, error) {
	err := c.sink.SendDefault(msg)
	c.mu.Lock()
	obs := append([]CommandObserver(nil), c.observers...)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(msg, err)
	}
	return msg, err
}

// ServoTargets converts a pose into device servo values.
func ServoTargets(p Pose) (a, b, c int) {
	return anglemap.CommandA(p.A), anglemap.CommandB(p.B), anglemap.CommandC(p.C)
}

// MoveTo sends a servo command for p, carrying the current motor state.
func (c *Controller) MoveTo(p Pose) (string, error) {
	a, b, cc := ServoTargets(p)
	return c.MoveRaw(a, b, cc)
}

// MoveRaw sends servo values that are already in device command space.
func (c *Controller) MoveRaw(a, b, cc int) (string, error) {
	c.mu.Lock()
	motor := c.motor
	c.mu.Unlock()
	return c.send(protocol.ServoCommand(a, b, cc, motor))
}

// SetLED switches the device LED.
func (c *Controller) SetLED(on bool) (string, error) {
	return c.send(protocol.LEDCommand(on))
}

// Motor switches the motor output and remembers the state for later servo
// commands.
func (c *Controller) Motor(state protocol.MotorState) (string, error) {
	c.mu.Lock()
	c.motor = state
	c.mu.Unlock()
	return c.send(protocol.MotorCommand(state))
}

// MotorState returns the last motor state sent.
func (c *Controller) MotorState() protocol.MotorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.motor
}

// Preset sends a named preset.
func (c *Controller) Preset(name string) (string, error) {
	msg, ok := Presets[name]
	if !ok {
		return "", fmt.Errorf("unknown preset %q", name)
	}
	return c.send(msg)
}

// Raw sends message unchanged.
func (c *Controller) Raw(message string) (string, error) {
	return c.send(message)
}
