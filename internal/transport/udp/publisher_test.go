package udp

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"karaoke/internal/pitch"
)

var testEvent = pitch.NoteEvent{
	Frequency: 261.63,
	Magnitude: 87.5,
	Note:      "C4",
	Cents:     1.5,
	Bin:       6,
	Timestamp: time.Unix(1_700_000_000, 123456789),
}

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := AppendPacket(&buf, 42, testEvent); err != nil {
		t.Fatalf("AppendPacket: %v", err)
	}
	if buf.Len() != headerSize+2 {
		t.Fatalf("packet length = %d, want %d", buf.Len(), headerSize+2)
	}

	p, err := DecodePacket(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if p.Seq != 42 || p.Note != "C4" || p.Bin != 6 {
		t.Errorf("decoded %+v", p)
	}
	if !p.Timestamp.Equal(testEvent.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", p.Timestamp, testEvent.Timestamp)
	}
	if p.Frequency != float32(261.63) || p.Cents != float32(1.5) || p.Magnitude != float32(87.5) {
		t.Errorf("floats = %v %v %v", p.Frequency, p.Cents, p.Magnitude)
	}
}

func TestPacketErrors(t *testing.T) {
	var buf bytes.Buffer
	bad := testEvent
	bad.Bin = -1
	if err := AppendPacket(&buf, 1, bad); !errors.Is(err, ErrPacket) {
		t.Errorf("negative bin: got %v", err)
	}

	if _, err := DecodePacket(make([]byte, headerSize-1)); !errors.Is(err, ErrPacket) {
		t.Errorf("short packet: got %v", err)
	}

	buf.Reset()
	AppendPacket(&buf, 1, testEvent)
	if _, err := DecodePacket(buf.Bytes()[:buf.Len()-1]); !errors.Is(err, ErrPacket) {
		t.Errorf("truncated note: got %v", err)
	}

	buf.Reset()
	long := testEvent
	long.Note = strings.Repeat("x", 300)
	if err := AppendPacket(&buf, 1, long); err != nil {
		t.Fatal(err)
	}
	if p, err := DecodePacket(buf.Bytes()); err != nil || len(p.Note) != maxNoteName {
		t.Errorf("long note: len %d, err %v", len(p.Note), err)
	}
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPublisherSendsLatestEvent(t *testing.T) {
	rx := listen(t)
	sender, err := NewUDPSender(rx.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	pub, err := NewUDPPublisher(5*time.Millisecond, sender)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	older := testEvent
	older.Note = "B3"
	pub.Send(older)
	pub.Send(testEvent)
	pub.Start()
	pub.Start()

	rx.SetReadDeadline(time.Now().Add(2 * time.Second))
	data := make([]byte, 512)
	n, err := rx.Read(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	p, err := DecodePacket(data[:n])
	if err != nil {
		t.Fatal(err)
	}
	if p.Seq != 1 || p.Note != "C4" {
		t.Errorf("first packet = %+v, want seq 1 C4", p)
	}

	// No new events: nothing more is published.
	time.Sleep(30 * time.Millisecond)
	if pub.Sent() != 1 {
		t.Errorf("Sent = %d, want 1", pub.Sent())
	}

	if err := pub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := sender.Send([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: %v", err)
	}
}

func TestNewUDPPublisher(t *testing.T) {
	if _, err := NewUDPPublisher(time.Millisecond, nil); err == nil {
		t.Error("nil sender accepted")
	}

	rx := listen(t)
	sender, err := NewUDPSender(rx.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	pub, err := NewUDPPublisher(0, sender)
	if err != nil {
		t.Fatal(err)
	}
	if pub.interval != 16*time.Millisecond {
		t.Errorf("interval = %v, want default", pub.interval)
	}
	if err := pub.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestNewUDPSenderBadAddress(t *testing.T) {
	if _, err := NewUDPSender("not an address"); err == nil {
		t.Error("expected resolve error")
	}
}
