package dispatch

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// MaxImageBytes bounds inline attachments; larger payloads are rejected
// before any network call.
const MaxImageBytes = 20 << 20

var acceptedImageTypes = []string{
	"image/png",
	"image/jpeg",
	"image/webp",
	"image/heic",
	"image/heif",
}

// Validate checks a prompt before it reaches the throttle. It returns an
// empty string when the prompt is acceptable, otherwise the reason shown
// to the user.
func Validate(prompt *models.Prompt, mode models.Mode) string {
	if mode != models.ModeText && mode != models.ModeImage {
		return fmt.Sprintf("unknown mode %q", mode)
	}
	if prompt == nil {
		return "please type a question or attach an image"
	}

	if prompt.Image != nil && len(prompt.Image.Data) == 0 {
		return "attached image is empty"
	}
	if !prompt.HasImage() {
		if strings.TrimSpace(prompt.Text) == "" {
			return "please type a question or attach an image"
		}
		return ""
	}

	if len(prompt.Image.Data) > MaxImageBytes {
		return fmt.Sprintf("attached image is larger than %d MB", MaxImageBytes>>20)
	}
	declared := strings.ToLower(strings.TrimSpace(prompt.Image.MIMEType))
	if declared == "" {
		return "attached image has no MIME type"
	}
	if !mimetype.EqualsAny(declared, acceptedImageTypes...) {
		return fmt.Sprintf("unsupported image type %q", declared)
	}
	detected := mimetype.Detect(prompt.Image.Data)
	if !detected.Is(declared) {
		return fmt.Sprintf("image content is %s, not %s", detected.String(), declared)
	}

	return ""
}

// SniffImage returns the detected MIME type of data, for callers that
// receive attachments without one.
func SniffImage(data []byte) string {
	return mimetype.Detect(data).String()
}
