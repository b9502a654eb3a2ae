// Package outbox implements the store-and-forward FIFO of outbound
// application payloads awaiting delivery acknowledgement.
package outbox

import (
	"errors"
	"sync"
)

// ErrEmpty reports an empty outbox. No Outbox method returns it;
// NextUnsent reports an empty or fully sent outbox with nil.
var ErrEmpty = errors.New("outbox: empty")

// Row is a single outbound payload and its delivery state.
type Row struct {
	TXBase  uint32
	Payload []byte
	Sent    bool
	Acked   bool
}

// Outbox is a FIFO of rows keyed by a strictly increasing tx_base, ordered
// by insertion. It is safe for concurrent use. The session calls it only
// from its own event-loop goroutine, where the sender tick also runs; the
// mutex lets callers outside that loop (metrics, inspection) read it too.
type Outbox struct {
	mu     sync.Mutex
	rows   []*Row
	nextTX uint32
}

// New returns an empty Outbox. firstTXBase is the tx_base assigned to the
// first row Add creates; callers seed this from the session's persisted
// TXbase counter.
func New(firstTXBase uint32) *Outbox {
	return &Outbox{nextTX: firstTXBase}
}

// Add allocates a new row with the next tx_base, sent=false, acked=false,
// and returns the tx_base assigned to it.
func (o *Outbox) Add(payload []byte) uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()

	tx := o.nextTX
	o.nextTX++
	o.rows = append(o.rows, &Row{TXBase: tx, Payload: payload})
	return tx
}

// NextUnsent returns a copy of the head-most row with sent=false, or nil if
// every row has already been sent.
func (o *Outbox) NextUnsent() *Row {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, r := range o.rows {
		if !r.Sent {
			cp := *r
			return &cp
		}
	}
	return nil
}

// MarkSent sets sent=true on the row with the given tx_base. The session's
// sender tick calls it only after the transport accepted the frame; a row
// whose write failed stays unsent and is picked again on the next tick.
// Recovery paths (reconnect, out-of-sync) call UnsendAll to resend rows.
func (o *Outbox) MarkSent(txBase uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r := o.find(txBase); r != nil {
		r.Sent = true
	}
}

// Unsend clears sent on a single row, e.g. when the transport reports that
// a send did not complete.
func (o *Outbox) Unsend(txBase uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r := o.find(txBase); r != nil {
		r.Sent = false
	}
}

// Ack sets acked=true on the row with the given tx_base.
func (o *Outbox) Ack(txBase uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r := o.find(txBase); r != nil {
		r.Acked = true
	}
}

// FlushAcked removes the longest acked=true prefix. Server acks arrive in
// strict tx_base order, so acked rows never have an unacked row ahead of
// them; a single prefix scan suffices.
func (o *Outbox) FlushAcked() {
	o.mu.Lock()
	defer o.mu.Unlock()

	i := 0
	for i < len(o.rows) && o.rows[i].Acked {
		i++
	}
	o.rows = o.rows[i:]
}

// UnsendAll clears sent on every row, used to re-drain after a reconnect or
// an out-of-sync recovery.
func (o *Outbox) UnsendAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.rows {
		r.Sent = false
	}
}

// CountUnacked returns the number of rows not yet acknowledged.
func (o *Outbox) CountUnacked() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, r := range o.rows {
		if !r.Acked {
			n++
		}
	}
	return n
}

// DeleteAll clears every row, e.g. on the third out-of-sync disconnect
// within a session. The tx_base counter is left untouched: the server's
// own stored tx_base still drives re-sync on reconnect.
func (o *Outbox) DeleteAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows = nil
}

func (o *Outbox) find(txBase uint32) *Row {
	for _, r := range o.rows {
		if r.TXBase == txBase {
			return r
		}
	}
	return nil
}
