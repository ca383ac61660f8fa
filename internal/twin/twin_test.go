package twin

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/twin.bridge/internal/anglemap"
	"github.com/banshee-data/twin.bridge/internal/protocol"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSink) Send(message, host string, port int) error {
	return s.SendDefault(message)
}

func (s *recordingSink) SendDefault(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, message)
	return s.err
}

func decode(t *testing.T, text string) protocol.Delta {
	t.Helper()
	d, err := protocol.Decode(text)
	require.NoError(t, err)
	return d
}

func TestReadingMerge(t *testing.T) {
	t.Parallel()

	var r Reading
	assert.False(t, r.Valid())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, r.Merge(decode(t, "Sensors|A:84|B:121|C:-90|Plate:4|Dist:300"), at))

	assert.Equal(t, -90, r.JointA)
	assert.Equal(t, -120, r.JointB)
	assert.Equal(t, 90, r.JointC)
	assert.Equal(t, 4, r.Plate)
	assert.Equal(t, int64(300), r.Distance)
	assert.Equal(t, uint64(1), r.Sequence)
	assert.Equal(t, at, r.UpdatedAt)
	assert.True(t, r.Valid())

	// a partial update keeps the other fields
	later := at.Add(time.Second)
	require.True(t, r.Merge(decode(t, "Sensors|A:0"), later))
	assert.Equal(t, 0, r.JointA)
	assert.Equal(t, -120, r.JointB)
	assert.Equal(t, 90, r.JointC)
	assert.Equal(t, 4, r.Plate)
	assert.Equal(t, int64(300), r.Distance)
	assert.Equal(t, uint64(2), r.Sequence)
	assert.Equal(t, later, r.UpdatedAt)
}

func TestReadingMergeEmpty(t *testing.T) {
	t.Parallel()

	r := Reading{JointA: 5, Sequence: 3}
	assert.False(t, r.Merge(protocol.Delta{}, time.Now()))
	assert.Equal(t, Reading{JointA: 5, Sequence: 3}, r)
}

func TestReadingJoint(t *testing.T) {
	t.Parallel()

	r := Reading{JointA: 1, JointB: 2, JointC: 3}
	assert.Equal(t, 1, r.Joint(anglemap.JointA))
	assert.Equal(t, 2, r.Joint(anglemap.JointB))
	assert.Equal(t, 3, r.Joint(anglemap.JointC))
}

func TestControllerMoveTo(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	c := NewController(sink)

	msg, err := c.MoveTo(Pose{A: 0, B: 0, C: 0})
	require.NoError(t, err)
	assert.Equal(t, "Servo|A:90|B:150|C:90|D:stop", msg)

	_, err = c.Motor(protocol.MotorStart)
	require.NoError(t, err)
	assert.Equal(t, protocol.MotorStart, c.MotorState())

	msg, err = c.MoveTo(Pose{A: 90, B: 30, C: -90})
	require.NoError(t, err)
	assert.Equal(t, "Servo|A:180|B:120|C:0|D:start", msg)

	assert.Equal(t, []string{
		"Servo|A:90|B:150|C:90|D:stop",
		"D:start",
		"Servo|A:180|B:120|C:0|D:start",
	}, sink.sent)
}

func TestControllerLEDAndPresets(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	c := NewController(sink)

	_, _ = c.SetLED(true)
	_, _ = c.SetLED(false)
	_, err := c.Preset("home")
	require.NoError(t, err)
	_, err = c.Preset("tilt")
	require.NoError(t, err)
	_, err = c.Preset("nope")
	assert.Error(t, err)
	_, _ = c.Raw("custom")

	assert.Equal(t, []string{
		"LED|1",
		"LED|0",
		"Servo|A:90|B:90|C:90|D:stop",
		"Servo|A:45|B:45|C:45|D:stop",
		"custom",
	}, sink.sent)
	assert.Equal(t, []string{"home", "tilt"}, PresetNames())
}

func TestControllerObserver(t *testing.T) {
	t.Parallel()

	failure := errors.New("unreachable")
	sink := &recordingSink{err: failure}
	c := NewController(sink)

	var got []string
	var gotErr error
	c.Observe(func(message string, err error) {
		got = append(got, message)
		gotErr = err
	})

	_, err := c.SetLED(true)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []string{"LED|1"}, got)
	assert.ErrorIs(t, gotErr, failure)
}
