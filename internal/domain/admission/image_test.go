package admission

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngChunk(chunkType string, data []byte) []byte {
	out := make([]byte, 0, 12+len(data))
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	body := append([]byte(chunkType), data...)
	out = append(out, body...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(body))
}

func buildMinimalPNG(t *testing.T, extraChunks ...[]byte) []byte {
	t.Helper()
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], 1) // width
	binary.BigEndian.PutUint32(ihdr[4:8], 1) // height
	ihdr[8] = 8                              // bit depth

	out := append([]byte{}, pngSignature...)
	out = append(out, pngChunk("IHDR", ihdr)...)
	for _, c := range extraChunks {
		out = append(out, c...)
	}
	out = append(out, pngChunk("IDAT", []byte{0x78, 0x9C, 0x63, 0x00})...)
	return append(out, pngChunk("IEND", nil)...)
}

func jpegSegment(marker byte, payload []byte) []byte {
	seg := []byte{0xFF, marker}
	seg = binary.BigEndian.AppendUint16(seg, uint16(2+len(payload)))
	return append(seg, payload...)
}

// buildEXIF produces a big-endian TIFF blob with an orientation entry and
// a GPS IFD pointer, the shape a phone camera writes.
func buildEXIF(orientation int) []byte {
	tiff := []byte{'M', 'M', 0x00, 0x2A}
	tiff = binary.BigEndian.AppendUint32(tiff, 8)
	tiff = binary.BigEndian.AppendUint16(tiff, 2)

	tiff = binary.BigEndian.AppendUint16(tiff, 0x0112) // orientation
	tiff = binary.BigEndian.AppendUint16(tiff, 3)      // SHORT
	tiff = binary.BigEndian.AppendUint32(tiff, 1)
	tiff = binary.BigEndian.AppendUint16(tiff, uint16(orientation))
	tiff = append(tiff, 0x00, 0x00)

	tiff = binary.BigEndian.AppendUint16(tiff, 0x8825) // GPS IFD pointer
	tiff = binary.BigEndian.AppendUint16(tiff, 4)      // LONG
	tiff = binary.BigEndian.AppendUint32(tiff, 1)
	tiff = binary.BigEndian.AppendUint32(tiff, 0)

	return binary.BigEndian.AppendUint32(tiff, 0) // no next IFD
}

func buildJPEG(t *testing.T, segments ...[]byte) []byte {
	t.Helper()
	out := []byte{0xFF, 0xD8}
	for _, seg := range segments {
		out = append(out, seg...)
	}
	// Minimal scan: SOS header, a little entropy data, EOI.
	out = append(out, 0xFF, 0xDA, 0x00, 0x02)
	out = append(out, 0x12, 0x34, 0x56)
	return append(out, 0xFF, 0xD9)
}

func TestScrubJPEGDropsMetadata(t *testing.T) {
	exif := append(append([]byte{}, exifHeader...), buildEXIF(1)...)
	dqt := bytes.Repeat([]byte{0x11}, 16)
	img := buildJPEG(t,
		jpegSegment(markerAPP1, exif),
		jpegSegment(markerCOM, []byte("shot at 40.7128,-74.0060")),
		jpegSegment(0xDB, dqt),
	)

	scrubbed, err := NewScrubber().Scrub(img)
	require.NoError(t, err)

	assert.NotContains(t, string(scrubbed), "40.7128")
	assert.False(t, bytes.Contains(scrubbed, exifHeader))
	assert.True(t, bytes.Contains(scrubbed, dqt), "structural segments survive")
}

func TestScrubJPEGPreservesOrientation(t *testing.T) {
	exif := append(append([]byte{}, exifHeader...), buildEXIF(6)...)
	img := buildJPEG(t, jpegSegment(markerAPP1, exif))

	scrubbed, err := NewScrubber().Scrub(img)
	require.NoError(t, err)

	// The original EXIF is gone but a minimal orientation tag remains.
	got, err := jpegOrientation(scrubbed)
	require.NoError(t, err)
	assert.Equal(t, 6, got)
	assert.True(t, bytes.Contains(scrubbed, buildOrientationAPP1(6)))
}

func TestScrubJPEGDefaultOrientationEmitsNothing(t *testing.T) {
	exif := append(append([]byte{}, exifHeader...), buildEXIF(1)...)
	img := buildJPEG(t, jpegSegment(markerAPP1, exif))

	scrubbed, err := NewScrubber().Scrub(img)
	require.NoError(t, err)

	got, err := jpegOrientation(scrubbed)
	require.NoError(t, err)
	assert.Zero(t, got, "no APP1 at all in the output")
}

func TestScrubJPEGMalformedEXIF(t *testing.T) {
	// EXIF header present but the TIFF blob is garbage. Fail closed.
	exif := append(append([]byte{}, exifHeader...), 0xDE, 0xAD)
	img := buildJPEG(t, jpegSegment(markerAPP1, exif))

	_, err := NewScrubber().Scrub(img)

	assert.ErrorIs(t, err, ErrImageMalformed)
}

func TestScrubJPEGTruncated(t *testing.T) {
	img := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}

	_, err := NewScrubber().Scrub(img)

	assert.ErrorIs(t, err, ErrImageMalformed)
}

func TestScrubPNGDropsTextChunks(t *testing.T) {
	img := buildMinimalPNG(t,
		pngChunk("tEXt", []byte("Author\x00student name")),
		pngChunk("eXIf", []byte("MM\x00\x2A")),
	)

	scrubbed, err := NewScrubber().Scrub(img)
	require.NoError(t, err)

	assert.NotContains(t, string(scrubbed), "student name")
	assert.NotContains(t, string(scrubbed), "eXIf")
	assert.Contains(t, string(scrubbed), "IDAT")
}

func TestScrubPNGKeepsRenderChunks(t *testing.T) {
	img := buildMinimalPNG(t,
		pngChunk("sRGB", []byte{0}),
		pngChunk("tIME", []byte{0x07, 0xE8, 1, 1, 0, 0, 0}),
	)

	scrubbed, err := NewScrubber().Scrub(img)
	require.NoError(t, err)

	assert.Contains(t, string(scrubbed), "sRGB")
	assert.NotContains(t, string(scrubbed), "tIME")
}

func TestScrubPNGBadCRC(t *testing.T) {
	img := buildMinimalPNG(t)
	img[len(img)-1] ^= 0xFF // corrupt the IEND CRC

	_, err := NewScrubber().Scrub(img)

	assert.ErrorIs(t, err, ErrImageMalformed)
}

func TestScrubPNGTrailingData(t *testing.T) {
	img := append(buildMinimalPNG(t), "hidden payload"...)

	_, err := NewScrubber().Scrub(img)

	assert.ErrorIs(t, err, ErrImageMalformed)
}

func TestScrubUnsupportedFormat(t *testing.T) {
	gif := []byte("GIF89a\x01\x00\x01\x00")

	_, err := NewScrubber().Scrub(gif)

	assert.ErrorIs(t, err, ErrImageUnsupported)
}
