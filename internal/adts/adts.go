// Package adts builds and parses ADTS (Audio Data Transport Stream) frame
// headers for AAC-LC elementary streams.
//
// Every frame written by this module carries a 7-byte header with no CRC
// and exactly one raw data block, so a stream is self-synchronizing and
// needs no container or external index to be played back.
package adts

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the length of a header without CRC.
	HeaderSize = 7

	// MaxFrameLength is the largest value the 13-bit frame_length field holds.
	MaxFrameLength = 1<<13 - 1

	// MaxPayload is the largest AAC payload that fits one frame.
	MaxPayload = MaxFrameLength - HeaderSize

	// ObjectTypeLC is the MPEG-4 audio object type for AAC Low Complexity.
	ObjectTypeLC = 2

	// bufferFullnessVBR signals a variable bitrate stream (0x7FF).
	bufferFullnessVBR = 0x7FF

	// defaultRateIndex is used for sample rates outside the table (44100 Hz).
	defaultRateIndex = 4
)

var (
	// ErrFrameTooLarge is returned when payload plus header overflows the
	// 13-bit frame_length field.
	ErrFrameTooLarge = errors.New("adts: frame exceeds 13-bit frame length")

	// ErrSyncLost is returned when a header does not start with 0xFFF.
	ErrSyncLost = errors.New("adts: sync word not found")

	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("adts: short header")

	// ErrBadFrameLength is returned when frame_length is smaller than the header.
	ErrBadFrameLength = errors.New("adts: frame length smaller than header")

	// ErrBadSampleRate is returned for a reserved sampling frequency index.
	ErrBadSampleRate = errors.New("adts: reserved sample rate index")
)

// sampleRates is indexed by sampling_frequency_index (ISO/IEC 14496-3).
var sampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// SampleRateIndex returns the 4-bit index for rate. ok is false when the rate
// is not one of the 13 defined values.
func SampleRateIndex(rate int) (idx int, ok bool) {
	for i, r := range sampleRates {
		if r == rate {
			return i, true
		}
	}
	return defaultRateIndex, false
}

// SampleRateAt returns the sample rate for a 4-bit index.
func SampleRateAt(idx int) (int, bool) {
	if idx < 0 || idx >= len(sampleRates) {
		return 0, false
	}
	return sampleRates[idx], true
}

// IsSupportedRate reports whether rate has an ADTS sample rate index.
func IsSupportedRate(rate int) bool {
	_, ok := SampleRateIndex(rate)
	return ok
}

// SampleRates returns the supported sample rates in index order.
func SampleRates() []int {
	out := make([]int, len(sampleRates))
	copy(out, sampleRates[:])
	return out
}

// Header is a complete 7-byte ADTS header. It is a value type: once built it
// is never modified.
type Header [HeaderSize]byte

// NewHeader builds the header for one AAC-LC frame carrying payloadLen bytes.
//
// Unknown sample rates are encoded with the 44100 Hz index. The channel
// count is written into the 3-bit channel_configuration field as is. A
// payload that does not fit the 13-bit frame_length field is rejected with
// ErrFrameTooLarge rather than truncated.
func NewHeader(payloadLen, sampleRate, channels int) (Header, error) {
	var h Header
	if payloadLen < 0 {
		return h, fmt.Errorf("adts: negative payload length %d", payloadLen)
	}
	frameLen := payloadLen + HeaderSize
	if frameLen > MaxFrameLength {
		return h, fmt.Errorf("%w: payload %d bytes, max %d", ErrFrameTooLarge, payloadLen, MaxPayload)
	}

	idx, _ := SampleRateIndex(sampleRate)
	ch := channels & 0x7
	profile := ObjectTypeLC - 1

	// syncword(12) id(1)=0 layer(2)=0 protection_absent(1)=1
	h[0] = 0xFF
	h[1] = 0xF1
	// profile(2) sf_index(4) private(1)=0 channel_config high bit(1)
	h[2] = byte(profile<<6 | idx<<2 | ch>>2)
	// channel_config low bits(2) original(1) home(1) copyright bits(2) frame_length high(2)
	h[3] = byte((ch&0x3)<<6 | frameLen>>11)
	h[4] = byte(frameLen >> 3)
	// frame_length low(3) buffer_fullness high(5)
	h[5] = byte((frameLen&0x7)<<5 | bufferFullnessVBR>>6)
	// buffer_fullness low(6) number_of_raw_data_blocks_in_frame(2)=0
	h[6] = byte((bufferFullnessVBR & 0x3F) << 2)
	return h, nil
}

// Bytes returns the header as a slice.
func (h Header) Bytes() []byte { return h[:] }

// Info holds the decoded fields of an ADTS header.
type Info struct {
	MPEG2            bool
	Layer            int
	ProtectionAbsent bool
	ObjectType       int
	SampleRateIndex  int
	SampleRate       int
	Channels         int
	FrameLength      int
	BufferFullness   int
	RawBlocks        int
}

// HeaderLen returns 7, or 9 when a CRC follows the fixed header.
func (i Info) HeaderLen() int {
	if i.ProtectionAbsent {
		return HeaderSize
	}
	return HeaderSize + 2
}

// PayloadLen returns the number of AAC bytes after the header (and CRC).
func (i Info) PayloadLen() int {
	return i.FrameLength - i.HeaderLen()
}

// Parse decodes the header at the start of b.
func Parse(b []byte) (Info, error) {
	if len(b) < HeaderSize {
		return Info{}, ErrShortHeader
	}
	if b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return Info{}, ErrSyncLost
	}

	info := Info{
		MPEG2:            b[1]>>3&0x1 == 1,
		Layer:            int(b[1] >> 1 & 0x3),
		ProtectionAbsent: b[1]&0x1 == 1,
		ObjectType:       int(b[2]>>6) + 1,
		SampleRateIndex:  int(b[2] >> 2 & 0xF),
		Channels:         int(b[2]&0x1)<<2 | int(b[3]>>6),
		FrameLength:      int(b[3]&0x3)<<11 | int(b[4])<<3 | int(b[5])>>5,
		BufferFullness:   int(b[5]&0x1F)<<6 | int(b[6])>>2,
		RawBlocks:        int(b[6]&0x3) + 1,
	}

	rate, ok := SampleRateAt(info.SampleRateIndex)
	if !ok {
		return info, fmt.Errorf("%w: %d", ErrBadSampleRate, info.SampleRateIndex)
	}
	info.SampleRate = rate

	if info.FrameLength < info.HeaderLen() {
		return info, fmt.Errorf("%w: %d", ErrBadFrameLength, info.FrameLength)
	}
	return info, nil
}

// AudioSpecificConfig returns the 2-byte MPEG-4 AudioSpecificConfig for an
// AAC-LC stream: object type, sampling frequency index and channel
// configuration, followed by a GASpecificConfig with all flags cleared.
func AudioSpecificConfig(sampleRate, channels int) []byte {
	idx, _ := SampleRateIndex(sampleRate)
	v := ObjectTypeLC<<11 | idx<<7 | (channels&0xF)<<3
	return []byte{byte(v >> 8), byte(v)}
}
