package detect

import (
	"context"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// Stub is a canned-response detector for tests and offline runs.
type Stub struct {
	Objects []types.DetectedObject
	Err     error

	// Calls counts Detect invocations, useful for cache assertions.
	Calls int
}

// NewStub creates a detector that always returns the given objects.
func NewStub(objects ...types.DetectedObject) *Stub {
	return &Stub{Objects: objects}
}

// Detect returns the canned objects or error.
func (s *Stub) Detect(ctx context.Context, imageBytes []byte) ([]types.DetectedObject, error) {
	_ = ctx
	_ = imageBytes
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]types.DetectedObject, len(s.Objects))
	copy(out, s.Objects)
	return out, nil
}
