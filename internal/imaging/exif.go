package imaging

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// ExifCaption returns the EXIF ImageDescription of a JPEG, trimmed of
// padding. ErrBlockNotFound means the image has no EXIF data or no
// description.
func ExifCaption(data []byte) (string, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		if exif.IsCriticalError(err) {
			return "", ErrBlockNotFound
		}
	}
	if x == nil {
		return "", ErrBlockNotFound
	}

	tag, err := x.Get(exif.ImageDescription)
	if err != nil {
		if exif.IsTagNotPresentError(err) {
			return "", ErrBlockNotFound
		}
		return "", fmt.Errorf("read ImageDescription: %w", err)
	}
	desc, err := tag.StringVal()
	if err != nil {
		return "", fmt.Errorf("read ImageDescription: %w", err)
	}

	desc = strings.TrimSpace(strings.TrimRight(desc, "\x00"))
	if desc == "" {
		return "", ErrBlockNotFound
	}
	return desc, nil
}
