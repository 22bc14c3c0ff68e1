package realtime

import (
	"errors"
	"fmt"
)

// ErrConnectivity marks every subscribe/fetch failure of the change stream
var ErrConnectivity = errors.New("realtime connectivity failure")

// SubscribeError is returned when a table subscription cannot be established
type SubscribeError struct {
	Table string
	Err   error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("failed to subscribe to %s: %v", e.Table, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

func (e *SubscribeError) Is(target error) bool { return target == ErrConnectivity }

// SnapshotError is returned when the snapshot fetch after subscribing fails
type SnapshotError struct {
	Resource string
	Err      error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("failed to fetch %s snapshot: %v", e.Resource, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

func (e *SnapshotError) Is(target error) bool { return target == ErrConnectivity }
