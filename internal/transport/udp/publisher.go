// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"karaoke/internal/log"
	"karaoke/internal/pitch"
)

// ErrPacket marks a datagram that does not decode as a note packet.
var ErrPacket = errors.New("malformed note packet")

const (
	headerSize  = 4 + 8 + 4 + 4 + 4 + 2 + 1
	maxNoteName = math.MaxUint8
)

// Packet is the decoded form of one note datagram.
type Packet struct {
	Seq       uint32
	Timestamp time.Time
	Frequency float32
	Magnitude float32
	Cents     float32
	Bin       uint16
	Note      string
}

/*
Note packet layout (BigEndian):

|<- 4 ->|<---- 8 ---->|<- 4 ->|<- 4 ->|<- 4 ->|<- 2 ->|<- 1 ->|<-- N -->|
+-------+-------------+-------+-------+-------+-------+-------+---------+
|  Seq  |  Timestamp  | Freq  |  Mag  | Cents |  Bin  |   N   |  Note   |
|uint32 | int64 (ns)  |float32|float32|float32|uint16 | uint8 | ASCII   |
+-------+-------------+-------+-------+-------+-------+-------+---------+
*/

// AppendPacket encodes ev with sequence number seq onto buf.
func AppendPacket(buf *bytes.Buffer, seq uint32, ev pitch.NoteEvent) error {
	note := ev.Note
	if len(note) > maxNoteName {
		note = note[:maxNoteName]
	}
	bin := ev.Bin
	if bin < 0 || bin > math.MaxUint16 {
		return fmt.Errorf("%w: bin %d out of range", ErrPacket, ev.Bin)
	}

	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[0:], seq)
	binary.BigEndian.PutUint64(hdr[4:], uint64(ev.Timestamp.UnixNano()))
	binary.BigEndian.PutUint32(hdr[12:], math.Float32bits(float32(ev.Frequency)))
	binary.BigEndian.PutUint32(hdr[16:], math.Float32bits(float32(ev.Magnitude)))
	binary.BigEndian.PutUint32(hdr[20:], math.Float32bits(float32(ev.Cents)))
	binary.BigEndian.PutUint16(hdr[24:], uint16(bin))
	hdr[26] = uint8(len(note))

	buf.Write(hdr[:])
	buf.WriteString(note)
	return nil
}

// DecodePacket parses one datagram.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < headerSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrPacket, len(data), headerSize)
	}
	n := int(data[26])
	if len(data) != headerSize+n {
		return Packet{}, fmt.Errorf("%w: note length %d does not match %d trailing bytes", ErrPacket, n, len(data)-headerSize)
	}
	return Packet{
		Seq:       binary.BigEndian.Uint32(data[0:]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(data[4:]))),
		Frequency: math.Float32frombits(binary.BigEndian.Uint32(data[12:])),
		Magnitude: math.Float32frombits(binary.BigEndian.Uint32(data[16:])),
		Cents:     math.Float32frombits(binary.BigEndian.Uint32(data[20:])),
		Bin:       binary.BigEndian.Uint16(data[24:]),
		Note:      string(data[headerSize:]),
	}, nil
}

// UDPPublisher sends the most recent note event at a fixed interval. Events
// arriving faster than the interval are coalesced; nothing is sent while no
// new event has arrived.
type UDPPublisher struct {
	sender   *UDPSender
	interval time.Duration

	mu          sync.Mutex // Protects everything above packetBuffer.
	latest      pitch.NoteEvent
	fresh       bool
	sequenceNum uint32
	ticker      *time.Ticker
	doneChan    chan struct{}
	wg          sync.WaitGroup

	packetBuffer *bytes.Buffer // Publisher goroutine only.
}

// NewUDPPublisher wraps sender. A non-positive interval defaults to 16ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
		log.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	return &UDPPublisher{
		sender:       sender,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start launches the publisher goroutine. Calling Start while running is a
// no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker, done := p.ticker, p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Debugf("UDPPublisher: Publishing every %s", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-done:
				return
			}
		}
	}()
}

// Stop halts the publisher goroutine and waits for it. Safe to call more
// than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// Send records ev as the next event to publish.
func (p *UDPPublisher) Send(ev pitch.NoteEvent) error {
	p.mu.Lock()
	p.latest = ev
	p.fresh = true
	p.mu.Unlock()
	return nil
}

// Sent returns the number of packets written so far.
func (p *UDPPublisher) Sent() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequenceNum
}

func (p *UDPPublisher) publish() {
	p.mu.Lock()
	if !p.fresh {
		p.mu.Unlock()
		return
	}
	ev := p.latest
	p.fresh = false
	p.sequenceNum++
	seq := p.sequenceNum
	p.mu.Unlock()

	p.packetBuffer.Reset()
	if err := AppendPacket(p.packetBuffer, seq, ev); err != nil {
		log.Errorf("UDPPublisher: Error packing note event: %v", err)
		return
	}
	if err := p.sender.Send(p.packetBuffer.Bytes()); err == nil {
		log.Debugf("UDPPublisher: Sent packet %d (%d bytes)", seq, p.packetBuffer.Len())
	}
}

// Close stops publishing and closes the sender.
func (p *UDPPublisher) Close() error {
	return errors.Join(p.Stop(), p.sender.Close())
}

var _ interface {
	Send(pitch.NoteEvent) error
	Close() error
} = (*UDPPublisher)(nil)
