// Package ogg reads the identification headers of Ogg Vorbis and Ogg Opus
// files and exposes the packets of an Ogg logical stream to decoders.
//
// Only the first logical stream of a file is considered; chained and
// multiplexed files are read as if they held that stream alone.
package ogg

import (
	"errors"
	"fmt"
	"io"

	xogg "github.com/SaurusXI/ogg"
)

// PacketReader yields the packets of an Ogg stream in order, joining
// packets that continue across a page boundary.
type PacketReader struct {
	dec     *xogg.Decoder
	serial  uint32
	started bool
	queue   [][]byte
	// held is the last packet of the previous page, kept until the next page
	// shows whether it continues.
	held    []byte
	hasHeld bool
	granule int64
	eos     bool
}

// NewPacketReader reads pages from r.
func NewPacketReader(r io.Reader) *PacketReader {
	return &PacketReader{dec: xogg.NewDecoder(r)}
}

// Granule returns the granule position of the most recently read page.
func (p *PacketReader) Granule() int64 { return p.granule }

// Next returns the next packet, or io.EOF after the last one.
func (p *PacketReader) Next() ([]byte, error) {
	for len(p.queue) == 0 {
		if p.eos {
			return p.flushHeld()
		}
		if err := p.readPage(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				p.eos = true
				continue
			}
			return nil, err
		}
	}
	pkt := p.queue[0]
	p.queue = p.queue[1:]
	return pkt, nil
}

func (p *PacketReader) flushHeld() ([]byte, error) {
	if !p.hasHeld {
		return nil, io.EOF
	}
	pkt := p.held
	p.held, p.hasHeld = nil, false
	return pkt, nil
}

func (p *PacketReader) readPage() error {
	page, _, err := p.dec.Decode()
	if err != nil {
		return err
	}
	if !p.started {
		p.serial = page.Serial
		p.started = true
	} else if page.Serial != p.serial {
		// Pages of other logical streams are skipped.
		return nil
	}
	p.granule = page.Granule

	packets := page.Packets
	if page.Type&xogg.COP != 0 && p.hasHeld && len(packets) > 0 {
		packets[0] = append(p.held, packets[0]...)
		p.hasHeld = false
	}
	if p.hasHeld {
		p.queue = append(p.queue, p.held)
		p.hasHeld = false
	}
	if len(packets) == 0 {
		return nil
	}
	p.queue = append(p.queue, packets[:len(packets)-1]...)
	p.held, p.hasHeld = packets[len(packets)-1], true

	if page.Type&xogg.EOS != 0 {
		p.eos = true
	}
	return nil
}

// FirstPacket returns the first packet of the stream in r, which for every
// Ogg audio codec is its identification header.
func FirstPacket(r io.Reader) ([]byte, error) {
	pkt, err := NewPacketReader(r).Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("ogg: empty stream")
		}
		return nil, fmt.Errorf("ogg: %w", err)
	}
	return pkt, nil
}
