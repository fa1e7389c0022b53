package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strrl/sensor-chat/internal/sensors"
)

var (
	ErrRemoteUnavailable = errors.New("gateway: remote unavailable")
	ErrMalformedResponse = errors.New("gateway: malformed response")
)

// RemoteError carries the failing request. A malformed body is reported as
// unavailable as well, so callers only need to check ErrRemoteUnavailable.
type RemoteError struct {
	Op        string
	URL       string
	Status    int
	Message   string
	Malformed bool
	Err       error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("gateway %s %s", e.Op, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemoteUnavailable:
		return true
	case ErrMalformedResponse:
		return e.Malformed
	}
	return false
}

type Query struct {
	DeviceID  string
	Hours     int
	Limit     int
	Paginated bool
}

type Result struct {
	Readings  []sensors.Reading
	Method    string
	Pages     int
	Skipped   int
	Source    string
	FetchedAt time.Time
}

// Source is anything that can produce sensor readings for a query.
type Source interface {
	Fetch(ctx context.Context, q Query) (*Result, error)
}
