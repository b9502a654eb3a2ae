package wire

import (
	"bytes"
	"testing"
)

func buildTestFrame(payload []byte) []byte {
	c := NewCodec()
	frame, err := c.Encode(Message{Header: HeaderNotification, TXSender: 1, Payload: payload})
	if err != nil {
		panic(err)
	}
	return frame
}

func TestReassembler_SingleFrameInOneChunk(t *testing.T) {
	r := NewReassembler()
	frame := buildTestFrame([]byte("hello"))

	frames := r.Feed(frame)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Fatalf("frame mismatch")
	}
	if r.Pending() {
		t.Fatal("expected no pending partial frame")
	}
}

func TestReassembler_FrameSplitAcrossChunks(t *testing.T) {
	r := NewReassembler()
	frame := buildTestFrame([]byte("a longer payload that spans blocks nicely"))

	mid := len(frame) / 2
	frames := r.Feed(frame[:mid])
	if len(frames) != 0 {
		t.Fatalf("expected no complete frames yet, got %d", len(frames))
	}
	if !r.Pending() {
		t.Fatal("expected a pending partial frame")
	}

	frames = r.Feed(frame[mid:])
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after completion, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Fatal("reassembled frame mismatch")
	}
	if r.Pending() {
		t.Fatal("expected buffer drained after full frame")
	}
}

func TestReassembler_TwoFramesInOneChunk(t *testing.T) {
	r := NewReassembler()
	f1 := buildTestFrame([]byte("first"))
	f2 := buildTestFrame([]byte("second"))

	frames := r.Feed(append(append([]byte(nil), f1...), f2...))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], f1) || !bytes.Equal(frames[1], f2) {
		t.Fatal("frame contents mismatch")
	}
}

func TestReassembler_ByteAtATime(t *testing.T) {
	r := NewReassembler()
	frame := buildTestFrame([]byte("trickle fed"))

	var got [][]byte
	for i := 0; i < len(frame); i++ {
		got = append(got, r.Feed(frame[i:i+1])...)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if !bytes.Equal(got[0], frame) {
		t.Fatal("byte-at-a-time reassembly mismatch")
	}
}

func TestReassembler_Expire_DiscardsPartialFrame(t *testing.T) {
	r := NewReassembler()
	frame := buildTestFrame([]byte("will be lost"))

	r.Feed(frame[:5])
	if !r.Pending() {
		t.Fatal("expected pending partial frame before expiry")
	}

	r.Expire()
	if r.Pending() {
		t.Fatal("expected buffer cleared after expiry")
	}

	// The remainder of the lost frame must not spuriously complete a frame
	// once discarded.
	frames := r.Feed(frame[5:])
	if len(frames) != 0 {
		t.Fatalf("expected no frames from orphaned tail, got %d", len(frames))
	}
}

func TestReassembler_Expire_IdempotentOnEmptyBuffer(t *testing.T) {
	r := NewReassembler()
	r.Expire()
	r.Expire()
	if r.Pending() {
		t.Fatal("expected empty buffer to remain empty")
	}
}
