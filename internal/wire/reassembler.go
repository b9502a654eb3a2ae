package wire

import (
	"encoding/binary"
	"time"
)

// DefaultDataExpecterTimeout is how long a partial frame may sit in the
// reassembly buffer before it is considered lost. Owning callers (the
// session event loop) arm/rearm a real timer for this duration; Reassembler
// itself does no time-keeping.
const DefaultDataExpecterTimeout = 500 * time.Millisecond

// Reassembler accumulates bytes from a TCP stream and slices out complete
// CTRL frames, delineated by their clear-text ALL_LEN prefix. It owns a
// single growable buffer; nothing outside this type may read or mutate it.
type Reassembler struct {
	rx []byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed appends chunk to the internal buffer and extracts every complete
// frame now available. Each returned frame is a fresh copy; the internal
// buffer is safe to keep growing after the call returns. Call Pending after
// Feed to decide whether the caller needs to (re)arm its data-expecter
// timer.
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	if len(chunk) > 0 {
		r.rx = append(r.rx, chunk...)
	}

	var frames [][]byte
	for {
		if len(r.rx) < 2 {
			break
		}
		allLen := binary.LittleEndian.Uint16(r.rx[0:2])
		total := int(allLen) + 2
		if len(r.rx) < total {
			break
		}
		frame := make([]byte, total)
		copy(frame, r.rx[:total])
		frames = append(frames, frame)
		r.rx = r.rx[total:]
	}

	if len(r.rx) == 0 {
		r.rx = nil // release storage
	}
	return frames
}

// Pending reports whether a partial frame is sitting in the buffer,
// awaiting more bytes. The caller should keep its data-expecter timer armed
// for as long as this is true, and disarm it once it goes false.
func (r *Reassembler) Pending() bool {
	return len(r.rx) > 0
}

// Expire discards any partial frame in the buffer, as if the data-expecter
// timer fired. It is idempotent: calling it with an empty buffer is a no-op.
// Expiry never signals an error to the caller; a lost partial frame is
// simply never delivered.
func (r *Reassembler) Expire() {
	r.rx = nil
}
