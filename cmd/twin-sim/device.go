package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/twin.bridge/internal/protocol"
)

// plateSteps is the number of positions the rotating plate reports.
const plateSteps = 8

// device emulates the arm controller: servos slew towards their command
// targets, the plate advances while the motor runs and the distance sensor
// reads a noisy value around a baseline.
type device struct {
	mu sync.Mutex

	target [3]float64
	pos    [3]float64
	slew   float64 // degrees per second

	led         bool
	motor       protocol.MotorState
	plate       int
	plateTimer  time.Duration
	platePeriod time.Duration

	baseline float64
	noise    distuv.Normal
}

func newDevice(seed uint64) *device {
	home := [3]float64{90, 90, 90}
	return &device{
		target:      home,
		pos:         home,
		slew:        120,
		motor:       protocol.MotorStop,
		platePeriod: 500 * time.Millisecond,
		baseline:    150,
		noise:       distuv.Normal{Mu: 0, Sigma: 2, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)},
	}
}

// Apply handles one command datagram.
func (d *device) Apply(command string) error {
	command = strings.TrimSpace(command)
	d.mu.Lock()
	defer d.mu.Unlock()

	switch protocol.Classify(command) {
	case protocol.KindServo:
		parts := strings.Split(command, protocol.Separator)[1:]
		for _, p := range parts {
			key, value, ok := strings.Cut(p, ":")
			if !ok {
				return fmt.Errorf("malformed servo field %q", p)
			}
			if key == protocol.KeyMotor {
				state, err := protocol.ParseMotorState(value)
				if err != nil {
					return err
				}
				d.motor = state
				continue
			}
			idx := strings.Index("ABC", key)
			if len(key) != 1 || idx < 0 {
				return fmt.Errorf("unknown servo key %q", key)
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("servo %s: %w", key, err)
			}
			d.target[idx] = math.Max(0, math.Min(180, v))
		}
	case protocol.KindLED:
		_, v, _ := strings.Cut(command, protocol.Separator)
		switch v {
		case "1":
			d.led = true
		case "0":
			d.led = false
		default:
			return fmt.Errorf("unknown LED value %q", v)
		}
	case protocol.KindMotor:
		_, v, _ := strings.Cut(command, ":")
		state, err := protocol.ParseMotorState(v)
		if err != nil {
			return err
		}
		d.motor = state
	default:
		return fmt.Errorf("unrecognised command %q", command)
	}
	return nil
}

// Step advances the simulation by dt.
func (d *device) Step(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	maxMove := d.slew * dt.Seconds()
	for i := range d.pos {
		delta := d.target[i] - d.pos[i]
		if math.Abs(delta) <= maxMove {
			d.pos[i] = d.target[i]
		} else {
			d.pos[i] += math.Copysign(maxMove, delta)
		}
	}

	if d.motor == protocol.MotorStart {
		d.plateTimer += dt
		for d.plateTimer >= d.platePeriod {
			d.plateTimer -= d.platePeriod
			d.plate = (d.plate + 1) % plateSteps
		}
	}
}

// Sensors renders the current state as a telemetry message.
func (d *device) Sensors() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, b, c := d.pos[0], d.pos[1], d.pos[2]
	plate := d.plate
	dist := int64(math.Max(0, math.Round(d.baseline+d.noise.Rand())))
	return protocol.SensorsMessage(protocol.Delta{A: &a, B: &b, C: &c, Plate: &plate, Dist: &dist})
}

// State is a snapshot for logging and tests.
type State struct {
	Target [3]float64
	Pos    [3]float64
	LED    bool
	Motor  protocol.MotorState
	Plate  int
}

func (d *device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{Target: d.target, Pos: d.pos, LED: d.led, Motor: d.motor, Plate: d.plate}
}
