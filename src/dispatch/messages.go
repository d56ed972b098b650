package dispatch

import (
	"fmt"
	"math"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// UserMessage is the human-readable text shown for a failed result. It is
// never empty for a failure and empty for a success.
func UserMessage(res *models.Result) string {
	if res == nil || res.Failure == nil {
		return ""
	}
	f := res.Failure

	switch f.Kind {
	case models.KindInvalidInput:
		return "Please type a question or attach an image before submitting (" + f.Message + ")."
	case models.KindThrottled:
		if f.RetryAfter > 0 {
			return fmt.Sprintf("You're asking a bit too fast. Try again in %d seconds.", RetryAfterSeconds(f))
		}
		return "This session has reached its request limit (" + f.Message + "). Start a new session to continue."
	case models.KindAllTargetsExhausted:
		return "The tutor service is temporarily unavailable. Last error: " + f.Message
	case models.KindCanceled:
		return "The request was cancelled."
	case models.KindTimeout:
		return "The tutor took too long to answer. Please try again."
	case models.KindQuota:
		return "The tutor service is over its usage quota. Please try again later."
	case models.KindMalformedResponse:
		return "The tutor returned an unexpected answer. Please try again."
	default:
		return "Something went wrong: " + f.Error()
	}
}

// RetryAfterSeconds rounds the wait up to whole seconds, as used by the
// Retry-After header.
func RetryAfterSeconds(f *models.Failure) int {
	if f == nil || f.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(f.RetryAfter.Seconds()))
}
