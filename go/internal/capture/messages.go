package capture

import (
	"fmt"
	"math"

	"github.com/mcdev12/geotag/go/internal/models"
)

var reasonMessages = map[models.CaptureReason]string{
	models.CaptureReasonTooFar:          "Too far away. Get closer to tag them.",
	models.CaptureReasonTargetCloaked:   "Target is cloaked.",
	models.CaptureReasonTargetShielded:  "Their shield blocked the tag.",
	models.CaptureReasonNotHunter:       "Only hunters can tag.",
	models.CaptureReasonRoomNotPlaying:  "The game isn't running.",
	models.CaptureReasonTargetNotRunner: "That player isn't a runner.",
	models.CaptureReasonTargetNotActive: "That runner is already out.",
	models.CaptureReasonNotInRoom:       "You're not in this room.",
	models.CaptureReasonHunterNotActive: "You can't tag right now.",
	models.CaptureReasonStaleLocation:   "Your location is out of date. Try again.",
}

const fallbackRejection = "Capture failed."

// RejectionMessage maps a judgment rejection onto its user-facing message
func RejectionMessage(result models.CaptureResult) string {
	if result.Reason == nil {
		return fallbackRejection
	}
	msg, ok := reasonMessages[*result.Reason]
	if !ok {
		return fallbackRejection
	}
	if *result.Reason == models.CaptureReasonTooFar && result.DistanceMeters != nil {
		return fmt.Sprintf("Too far away (%d m). Get closer to tag them.", int(math.Round(*result.DistanceMeters)))
	}
	return msg
}

// SuccessMessage describes a successful capture
func SuccessMessage(result models.CaptureResult) string {
	if result.GameEnded != nil && *result.GameEnded {
		return "Tagged! That was the last runner."
	}
	if result.RemainingRunners != nil {
		n := *result.RemainingRunners
		if n == 1 {
			return "Tagged! 1 runner left."
		}
		return fmt.Sprintf("Tagged! %d runners left.", n)
	}
	return "Tagged!"
}
