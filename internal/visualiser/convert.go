package visualiser

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/twin.bridge/internal/twin"
)

var (
	errMissingCommand = errors.New("command is required")
	errHostPortPair   = errors.New("host and port must be given together")
	errBadPort        = errors.New("port must be a whole number between 1 and 65535")
)

// ReadingToStruct converts a reading to the wire message. Field names match
// the JSON encoding used by the HTTP API.
func ReadingToStruct(r twin.Reading) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"joint_a":  r.JointA,
		"joint_b":  r.JointB,
		"joint_c":  r.JointC,
		"plate":    r.Plate,
		"distance": r.Distance,
		"sequence": r.Sequence,
	}
	if !r.UpdatedAt.IsZero() {
		fields["updated_at"] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(fields)
}

// ReadingFromStruct is the inverse of ReadingToStruct.
func ReadingFromStruct(s *structpb.Struct) (twin.Reading, error) {
	f := s.GetFields()
	r := twin.Reading{
		JointA:   int(f["joint_a"].GetNumberValue()),
		JointB:   int(f["joint_b"].GetNumberValue()),
		JointC:   int(f["joint_c"].GetNumberValue()),
		Plate:    int(f["plate"].GetNumberValue()),
		Distance: int64(f["distance"].GetNumberValue()),
		Sequence: uint64(f["sequence"].GetNumberValue()),
	}
	if v, ok := f["updated_at"]; ok {
		t, err := time.Parse(time.RFC3339Nano, v.GetStringValue())
		if err != nil {
			return r, fmt.Errorf("invalid updated_at: %w", err)
		}
		r.UpdatedAt = t
	}
	return r, nil
}
