package imaging

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BlockKind names an embedded metadata block.
type BlockKind int

const (
	// BlockXMP is an Adobe XMP packet.
	BlockXMP BlockKind = iota
	// BlockEXIF is a TIFF-structured EXIF payload.
	BlockEXIF
)

func (k BlockKind) String() string {
	switch k {
	case BlockXMP:
		return "xmp"
	case BlockEXIF:
		return "exif"
	default:
		return fmt.Sprintf("block(%d)", int(k))
	}
}

// ErrBlockNotFound is returned when the image carries no block of the
// requested kind.
var ErrBlockNotFound = errors.New("metadata block not found")

var (
	jpegSOI      = []byte{0xFF, 0xD8}
	pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

	xmpJPEGHeader = []byte("http://ns.adobe.com/xap/1.0/\x00")
	exifHeader    = []byte("Exif\x00\x00")
	xmpPNGKeyword = "XML:com.adobe.xmp"

	xmpOpen  = []byte("<x:xmpmeta")
	xmpClose = []byte("</x:xmpmeta>")
)

// ExtractBlock returns the raw bytes of the requested metadata block.
// JPEG APP1 segments and PNG iTXt chunks are searched; for XMP a raw scan
// for an x:xmpmeta element is the last resort.
func ExtractBlock(data []byte, kind BlockKind) ([]byte, error) {
	var (
		block []byte
		err   error
	)
	switch {
	case bytes.HasPrefix(data, jpegSOI):
		block, err = jpegBlock(data, kind)
	case bytes.HasPrefix(data, pngSignature):
		block, err = pngBlock(data, kind)
	default:
		err = ErrBlockNotFound
	}
	if err == nil {
		return block, nil
	}
	if kind == BlockXMP && errors.Is(err, ErrBlockNotFound) {
		return scanXMP(data)
	}
	return nil, err
}

func jpegBlock(data []byte, kind BlockKind) ([]byte, error) {
	header := xmpJPEGHeader
	if kind == BlockEXIF {
		header = exifHeader
	}

	pos := len(jpegSOI)
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil, fmt.Errorf("corrupt JPEG: expected marker at offset %d", pos)
		}
		marker := data[pos+1]
		switch {
		case marker == 0xFF:
			// fill byte
			pos++
			continue
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			pos += 2
			continue
		case marker == 0xDA || marker == 0xD9:
			// metadata segments precede the scan data
			return nil, ErrBlockNotFound
		}

		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			return nil, fmt.Errorf("corrupt JPEG: segment at offset %d overruns the file", pos)
		}
		payload := data[pos+4 : pos+2+length]
		if marker == 0xE1 && bytes.HasPrefix(payload, header) {
			return payload[len(header):], nil
		}
		pos += 2 + length
	}
	return nil, ErrBlockNotFound
}

func pngBlock(data []byte, kind BlockKind) ([]byte, error) {
	pos := len(pngSignature)
	for pos+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 8 + length
		if length < 0 || end+4 > len(data) {
			return nil, fmt.Errorf("corrupt PNG: chunk %q overruns the file", typ)
		}
		chunk := data[pos+8 : end]

		switch {
		case typ == "IEND":
			return nil, ErrBlockNotFound
		case typ == "iTXt" && kind == BlockXMP:
			if text, ok, err := xmpFromITXt(chunk); err != nil {
				return nil, err
			} else if ok {
				return text, nil
			}
		case typ == "eXIf" && kind == BlockEXIF:
			return chunk, nil
		}
		pos = end + 4
	}
	return nil, ErrBlockNotFound
}

// xmpFromITXt decodes an iTXt chunk if its keyword marks an XMP packet.
// Layout: keyword NUL flag method language NUL translated NUL text.
func xmpFromITXt(chunk []byte) ([]byte, bool, error) {
	keyword, rest, ok := bytes.Cut(chunk, []byte{0})
	if !ok || string(keyword) != xmpPNGKeyword || len(rest) < 2 {
		return nil, false, nil
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
		return nil, false, fmt.Errorf("corrupt PNG: iTXt language tag")
	}
	if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
		return nil, false, fmt.Errorf("corrupt PNG: iTXt translated keyword")
	}
	if !compressed {
		return rest, true, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, false, fmt.Errorf("corrupt PNG: iTXt stream: %w", err)
	}
	defer zr.Close()
	text, err := io.ReadAll(zr)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt PNG: iTXt stream: %w", err)
	}
	return text, true, nil
}

func scanXMP(data []byte) ([]byte, error) {
	start := bytes.Index(data, xmpOpen)
	if start < 0 {
		return nil, ErrBlockNotFound
	}
	end := bytes.Index(data[start:], xmpClose)
	if end < 0 {
		return nil, ErrBlockNotFound
	}
	return data[start : start+end+len(xmpClose)], nil
}
