package capture

import "errors"

var (
	ErrNotPlaying        = errors.New("room is not playing")
	ErrNotHunter         = errors.New("local player is not a hunter")
	ErrTargetUnavailable = errors.New("target is not an active runner")
	ErrAttemptInFlight   = errors.New("a capture attempt is already in flight")
)
