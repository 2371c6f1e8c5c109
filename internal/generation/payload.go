package generation

import (
	"io"
	"mime"
	"slices"
	"strings"

	"multitalk/internal/services"
)

// Upload is one input file as received from the request layer.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Payload is a generation request.
type Payload struct {
	Prompt     string
	Resolution string
	FrameCount int
	Audio      *Upload
	Image      *Upload
}

// Limits bounds what Submit accepts.
type Limits struct {
	Resolutions    []string
	FrameCounts    []int
	MaxUploadBytes int64
}

// Validate reports the first violated field as a services.ValidationError.
func (p Payload) Validate(limits Limits) error {
	if strings.TrimSpace(p.Prompt) == "" {
		return services.Invalid("prompt", "required")
	}
	if !slices.Contains(limits.Resolutions, strings.ToLower(strings.TrimSpace(p.Resolution))) {
		return services.Invalid("resolution", "must be one of %s", strings.Join(limits.Resolutions, ", "))
	}
	if !slices.Contains(limits.FrameCounts, p.FrameCount) {
		return services.Invalid("frame_count", "must be one of %v", limits.FrameCounts)
	}
	if err := validateUpload("audio", p.Audio, "audio/", limits.MaxUploadBytes); err != nil {
		return err
	}
	return validateUpload("image", p.Image, "image/", limits.MaxUploadBytes)
}

func validateUpload(field string, upload *Upload, typePrefix string, maxBytes int64) error {
	if upload == nil || upload.Body == nil {
		return services.Invalid(field, "required")
	}
	if upload.Size <= 0 {
		return services.Invalid(field, "file is empty")
	}
	if maxBytes > 0 && upload.Size > maxBytes {
		return services.Invalid(field, "file is %d bytes; limit is %d", upload.Size, maxBytes)
	}
	mediaType, _, err := mime.ParseMediaType(upload.ContentType)
	if err != nil || !strings.HasPrefix(mediaType, typePrefix) {
		return services.Invalid(field, "content type %q is not %s*", upload.ContentType, typePrefix)
	}
	return nil
}
