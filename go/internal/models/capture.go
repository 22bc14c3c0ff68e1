package models

// CaptureReason is the enumerated rejection reason of a capture judgment.
type CaptureReason string

const (
	CaptureReasonTooFar          CaptureReason = "too_far"
	CaptureReasonTargetCloaked   CaptureReason = "target_cloaked"
	CaptureReasonTargetShielded  CaptureReason = "target_shielded"
	CaptureReasonNotHunter       CaptureReason = "not_hunter"
	CaptureReasonRoomNotPlaying  CaptureReason = "room_not_playing"
	CaptureReasonTargetNotRunner CaptureReason = "target_not_runner"
	CaptureReasonTargetNotActive CaptureReason = "target_not_active"
	CaptureReasonNotInRoom       CaptureReason = "not_in_room"
	CaptureReasonHunterNotActive CaptureReason = "hunter_not_active"
	CaptureReasonStaleLocation   CaptureReason = "stale_location"
)

// CaptureResult is the structured result of the server's capture judgment.
// Absent fields stay nil; the engine never fills them in itself.
type CaptureResult struct {
	OK               bool           `json:"ok"`
	Reason           *CaptureReason `json:"reason,omitempty"`
	DistanceMeters   *float64       `json:"distance_m,omitempty"`
	RemainingRunners *int           `json:"remaining_runners,omitempty"`
	RoomStatus       *string        `json:"room_status,omitempty"`
	TargetStatus     *string        `json:"target_status,omitempty"`
	GameEnded        *bool          `json:"game_ended,omitempty"`
}
