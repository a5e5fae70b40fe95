package adts

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Frame is one ADTS frame read from a stream. Payload excludes the header
// and, when present, the CRC.
type Frame struct {
	Info    Info
	Header  []byte
	Payload []byte
}

// Scanner reads consecutive ADTS frames from a byte stream. It does not
// resynchronize: a frame that does not begin with the sync word stops the
// scan with ErrSyncLost.
type Scanner struct {
	r      *bufio.Reader
	frame  Frame
	err    error
	offset int64
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 2*MaxFrameLength)}
}

// Scan advances to the next frame. It returns false at end of input or on
// error; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}

	hdr := make([]byte, HeaderSize)
	n, err := io.ReadFull(s.r, hdr)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return false
		}
		s.err = fmt.Errorf("adts: offset %d: %w", s.offset, ErrShortHeader)
		return false
	}

	info, err := Parse(hdr)
	if err != nil {
		s.err = fmt.Errorf("adts: offset %d: %w", s.offset, err)
		return false
	}

	rest := make([]byte, info.FrameLength-HeaderSize)
	if _, err := io.ReadFull(s.r, rest); err != nil {
		s.err = fmt.Errorf("adts: offset %d: truncated frame of %d bytes: %w", s.offset, info.FrameLength, err)
		return false
	}

	crc := info.HeaderLen() - HeaderSize
	s.frame = Frame{
		Info:    info,
		Header:  append(hdr, rest[:crc]...),
		Payload: rest[crc:],
	}
	s.offset += int64(info.FrameLength)
	return true
}

// Frame returns the most recent frame produced by Scan.
func (s *Scanner) Frame() Frame { return s.frame }

// Offset returns the number of bytes consumed so far.
func (s *Scanner) Offset() int64 { return s.offset }

// Err returns the first error encountered, or nil at a clean end of input.
func (s *Scanner) Err() error { return s.err }

// Split splits a buffer holding whole ADTS frames into their payloads.
// Trailing bytes that do not form a complete frame are returned as rest.
func Split(b []byte) (payloads [][]byte, rest []byte, err error) {
	for len(b) >= HeaderSize {
		info, err := Parse(b)
		if err != nil {
			return payloads, b, err
		}
		if len(b) < info.FrameLength {
			break
		}
		payloads = append(payloads, b[info.HeaderLen():info.FrameLength])
		b = b[info.FrameLength:]
	}
	return payloads, b, nil
}
