package admission

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Scrubber strips embedded metadata from raster images before storage.
// Pixel data passes through untouched; everything else is dropped except
// the minimum needed for correct rendering (orientation, color profile).
// Any parse failure is an error: an unparseable image never reaches
// storage with its metadata intact.
type Scrubber struct{}

func NewScrubber() *Scrubber { return &Scrubber{} }

var (
	// ErrImageUnsupported marks a raster format the scrubber cannot
	// rewrite. The pipeline rejects such artifacts rather than passing
	// their bytes through unscrubbed.
	ErrImageUnsupported = errors.New("unsupported image format")

	// ErrImageMalformed marks a structural parse failure.
	ErrImageMalformed = errors.New("malformed image")
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// Scrub returns a copy of the image with metadata blocks removed.
func (s *Scrubber) Scrub(data []byte) ([]byte, error) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return scrubJPEG(data)
	case len(data) >= 8 && bytes.Equal(data[:8], pngSignature):
		return scrubPNG(data)
	}
	return nil, ErrImageUnsupported
}

// JPEG markers handled below.
const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1
	markerAPP2 = 0xE2
	markerCOM  = 0xFE
	markerTEM  = 0x01
)

var iccProfileHeader = []byte("ICC_PROFILE\x00")
var exifHeader = []byte("Exif\x00\x00")

// scrubJPEG walks the segment stream. APP0 (JFIF) and APP2 ICC profile
// segments survive; APP1 (EXIF/XMP), COM, and the remaining APPn are
// dropped. When the EXIF held an orientation other than the default, a
// minimal replacement APP1 carrying only that tag is emitted so rotated
// photos still render upright.
func scrubJPEG(data []byte) ([]byte, error) {
	orientation, err := jpegOrientation(data)
	if err != nil {
		return nil, err
	}

	out := bytes.NewBuffer(make([]byte, 0, len(data)))
	out.Write(data[:2]) // SOI
	if orientation > 1 {
		out.Write(buildOrientationAPP1(orientation))
	}

	i := 2
	for {
		if i+1 >= len(data) {
			return nil, fmt.Errorf("%w: truncated before scan data", ErrImageMalformed)
		}
		if data[i] != 0xFF {
			return nil, fmt.Errorf("%w: expected marker at offset %d", ErrImageMalformed, i)
		}
		marker := data[i+1]

		switch marker {
		case markerSOS:
			// Entropy-coded data runs from here to EOI; copied verbatim,
			// pixel data is never touched.
			out.Write(data[i:])
			return out.Bytes(), nil
		case markerTEM, 0xD0, 0xD1, 0xD2, 0xD3, 0xD4, 0xD5, 0xD6, 0xD7:
			out.Write(data[i : i+2])
			i += 2
			continue
		case markerSOI, markerEOI:
			return nil, fmt.Errorf("%w: unexpected marker 0x%02X before scan data", ErrImageMalformed, marker)
		}

		if i+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated segment header", ErrImageMalformed)
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if segLen < 2 || i+2+segLen > len(data) {
			return nil, fmt.Errorf("%w: segment length out of bounds", ErrImageMalformed)
		}
		segment := data[i : i+2+segLen]
		payload := segment[4:]

		if keepJPEGSegment(marker, payload) {
			out.Write(segment)
		}
		i += 2 + segLen
	}
}

func keepJPEGSegment(marker byte, payload []byte) bool {
	switch {
	case marker == markerAPP0:
		return true // JFIF header
	case marker == markerAPP2:
		return bytes.HasPrefix(payload, iccProfileHeader) // color profile only
	case marker == markerAPP1, marker == markerCOM:
		return false // EXIF, XMP, comments
	case marker >= 0xE3 && marker <= 0xEF:
		return false // remaining application segments
	}
	return true // tables, frame headers, everything structural
}

// jpegOrientation finds the EXIF orientation tag, if any. A present but
// unparseable EXIF block is a hard error, per the fail-closed contract.
func jpegOrientation(data []byte) (int, error) {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return 0, fmt.Errorf("%w: expected marker at offset %d", ErrImageMalformed, i)
		}
		marker := data[i+1]
		if marker == markerSOS {
			return 0, nil
		}
		if marker == markerTEM || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		segLen := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if segLen < 2 || i+2+segLen > len(data) {
			return 0, fmt.Errorf("%w: segment length out of bounds", ErrImageMalformed)
		}
		if marker == markerAPP1 {
			payload := data[i+4 : i+2+segLen]
			if bytes.HasPrefix(payload, exifHeader) {
				return exifOrientation(payload[len(exifHeader):])
			}
		}
		i += 2 + segLen
	}
	return 0, fmt.Errorf("%w: truncated before scan data", ErrImageMalformed)
}

// exifOrientation reads tag 0x0112 from IFD0 of a TIFF blob.
func exifOrientation(tiff []byte) (int, error) {
	if len(tiff) < 8 {
		return 0, fmt.Errorf("%w: EXIF block too short", ErrImageMalformed)
	}
	var order binary.ByteOrder
	switch {
	case tiff[0] == 'I' && tiff[1] == 'I':
		order = binary.LittleEndian
	case tiff[0] == 'M' && tiff[1] == 'M':
		order = binary.BigEndian
	default:
		return 0, fmt.Errorf("%w: bad TIFF byte order", ErrImageMalformed)
	}
	if order.Uint16(tiff[2:4]) != 42 {
		return 0, fmt.Errorf("%w: bad TIFF magic", ErrImageMalformed)
	}
	ifdOffset := order.Uint32(tiff[4:8])
	if int64(ifdOffset)+2 > int64(len(tiff)) {
		return 0, fmt.Errorf("%w: IFD offset out of bounds", ErrImageMalformed)
	}
	count := int(order.Uint16(tiff[ifdOffset : ifdOffset+2]))
	entries := int64(ifdOffset) + 2
	if entries+int64(count)*12 > int64(len(tiff)) {
		return 0, fmt.Errorf("%w: IFD entries out of bounds", ErrImageMalformed)
	}
	for e := 0; e < count; e++ {
		entry := tiff[entries+int64(e)*12:]
		tag := order.Uint16(entry[0:2])
		typ := order.Uint16(entry[2:4])
		if tag == 0x0112 && typ == 3 { // orientation, SHORT
			v := int(order.Uint16(entry[8:10]))
			if v < 1 || v > 8 {
				return 0, fmt.Errorf("%w: orientation value %d out of range", ErrImageMalformed, v)
			}
			return v, nil
		}
	}
	return 0, nil
}

// buildOrientationAPP1 emits a minimal big-endian EXIF APP1 segment whose
// only IFD entry is the orientation tag.
func buildOrientationAPP1(orientation int) []byte {
	tiff := make([]byte, 0, 26)
	tiff = append(tiff, 'M', 'M', 0x00, 0x2A) // big-endian TIFF header
	tiff = binary.BigEndian.AppendUint32(tiff, 8)
	tiff = binary.BigEndian.AppendUint16(tiff, 1) // one entry
	tiff = binary.BigEndian.AppendUint16(tiff, 0x0112)
	tiff = binary.BigEndian.AppendUint16(tiff, 3) // SHORT
	tiff = binary.BigEndian.AppendUint32(tiff, 1)
	tiff = binary.BigEndian.AppendUint16(tiff, uint16(orientation))
	tiff = append(tiff, 0x00, 0x00)               // value padding
	tiff = binary.BigEndian.AppendUint32(tiff, 0) // no next IFD

	payload := append(append([]byte{}, exifHeader...), tiff...)
	seg := make([]byte, 0, 4+len(payload))
	seg = append(seg, 0xFF, markerAPP1)
	seg = binary.BigEndian.AppendUint16(seg, uint16(2+len(payload)))
	return append(seg, payload...)
}

// pngKeepChunks are the chunks required for correct pixel, palette, and
// color rendering. Everything else (tEXt, zTXt, iTXt, eXIf, tIME, ...)
// is metadata and gets dropped.
var pngKeepChunks = map[string]bool{
	"IHDR": true, "PLTE": true, "IDAT": true, "IEND": true,
	"tRNS": true, "gAMA": true, "cHRM": true, "sRGB": true, "iCCP": true,
}

// scrubPNG walks the chunk stream, validating each CRC, and copies only
// the render-critical chunks.
func scrubPNG(data []byte) ([]byte, error) {
	out := bytes.NewBuffer(make([]byte, 0, len(data)))
	out.Write(pngSignature)

	i := 8
	sawIHDR, sawIEND := false, false
	for !sawIEND {
		if i+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated chunk header", ErrImageMalformed)
		}
		length := int(binary.BigEndian.Uint32(data[i : i+4]))
		if length < 0 || i+12+length > len(data) {
			return nil, fmt.Errorf("%w: chunk length out of bounds", ErrImageMalformed)
		}
		chunkType := string(data[i+4 : i+8])
		body := data[i+4 : i+8+length]
		crc := binary.BigEndian.Uint32(data[i+8+length : i+12+length])
		if crc32.ChecksumIEEE(body) != crc {
			return nil, fmt.Errorf("%w: chunk %s CRC mismatch", ErrImageMalformed, chunkType)
		}

		switch chunkType {
		case "IHDR":
			if i != 8 {
				return nil, fmt.Errorf("%w: IHDR not first", ErrImageMalformed)
			}
			sawIHDR = true
		case "IEND":
			sawIEND = true
		}

		if pngKeepChunks[chunkType] {
			out.Write(data[i : i+12+length])
		}
		i += 12 + length
	}
	if !sawIHDR {
		return nil, fmt.Errorf("%w: missing IHDR", ErrImageMalformed)
	}
	if i != len(data) {
		return nil, fmt.Errorf("%w: trailing data after IEND", ErrImageMalformed)
	}
	return out.Bytes(), nil
}
