package pipeline

import (
	stderr "errors"

	"github.com/s3gallery/s3gallery/internal/imaging"
	"github.com/s3gallery/s3gallery/internal/xmp"
	"github.com/s3gallery/s3gallery/pkg/errors"
)

// Captions reads the XMP dc:description of an image, optionally falling
// back to the EXIF ImageDescription.
type Captions struct {
	ExifFallback bool
}

var _ CaptionParser = Captions{}

// Caption returns the caption of an encoded image. Any failure carries
// errors.ErrCodeMetadataInvalid.
func (c Captions) Caption(data []byte) (string, error) {
	caption, err := xmpCaption(data)
	if err == nil {
		return caption, nil
	}

	if c.ExifFallback {
		if desc, exifErr := imaging.ExifCaption(data); exifErr == nil {
			return desc, nil
		}
	}
	return "", errors.Wrap(errors.ErrCodeMetadataInvalid, "no usable caption", err).
		WithComponent("pipeline").
		WithOperation(string(StageCaption))
}

func xmpCaption(data []byte) (string, error) {
	block, err := imaging.ExtractBlock(data, imaging.BlockXMP)
	if err != nil {
		return "", err
	}
	md, err := xmp.Parse(block)
	if err != nil {
		return "", err
	}
	return md.Caption, nil
}

// IsAbsent reports whether err only means the image carries no caption,
// as opposed to one that could not be read.
func IsAbsent(err error) bool {
	return stderr.Is(err, imaging.ErrBlockNotFound) || stderr.Is(err, xmp.ErrNoCaption)
}
