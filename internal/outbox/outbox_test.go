package outbox

import "testing"

func TestOutbox_AddAssignsStrictlyIncreasingTXBase(t *testing.T) {
	o := New(10)
	tx1 := o.Add([]byte("a"))
	tx2 := o.Add([]byte("b"))
	tx3 := o.Add([]byte("c"))

	if tx1 != 10 || tx2 != 11 || tx3 != 12 {
		t.Fatalf("got tx_base sequence %d,%d,%d; want 10,11,12", tx1, tx2, tx3)
	}
}

func TestOutbox_NextUnsent_ReturnsHeadMost(t *testing.T) {
	o := New(0)
	tx1 := o.Add([]byte("a"))
	o.Add([]byte("b"))

	row := o.NextUnsent()
	if row == nil || row.TXBase != tx1 {
		t.Fatalf("expected head row %d, got %+v", tx1, row)
	}

	o.MarkSent(tx1)
	row = o.NextUnsent()
	if row == nil || row.Payload[0] != 'b' {
		t.Fatalf("expected second row after first marked sent, got %+v", row)
	}
}

func TestOutbox_NextUnsent_NilWhenAllSent(t *testing.T) {
	o := New(0)
	tx := o.Add([]byte("a"))
	o.MarkSent(tx)

	if row := o.NextUnsent(); row != nil {
		t.Fatalf("expected nil, got %+v", row)
	}
}

func TestOutbox_FlushAcked_RemovesOnlyLongestAckedPrefix(t *testing.T) {
	o := New(0)
	tx1 := o.Add([]byte("a"))
	tx2 := o.Add([]byte("b"))
	o.Add([]byte("c")) // left unacked
	tx4 := o.Add([]byte("d"))

	o.Ack(tx1)
	o.Ack(tx2)
	// tx4 is acked too, but it sits behind the unacked "c" row; since acks
	// arrive in strict tx_base order this can't happen in practice, but the
	// prefix scan must still stop at the first unacked row regardless.
	o.Ack(tx4)

	o.FlushAcked()
	if len(o.rows) != 2 {
		t.Fatalf("expected 2 rows remaining, got %d", len(o.rows))
	}
	if o.rows[0].Payload[0] != 'c' {
		t.Fatalf("expected head row to be 'c', got %q", o.rows[0].Payload)
	}
}

func TestOutbox_FlushAcked_RemovesAllWhenFullyAcked(t *testing.T) {
	o := New(0)
	tx1 := o.Add([]byte("a"))
	tx2 := o.Add([]byte("b"))
	o.Ack(tx1)
	o.Ack(tx2)

	o.FlushAcked()
	if len(o.rows) != 0 {
		t.Fatalf("expected all rows flushed, got %d", len(o.rows))
	}
}

func TestOutbox_UnsendAll(t *testing.T) {
	o := New(0)
	tx1 := o.Add([]byte("a"))
	tx2 := o.Add([]byte("b"))
	o.MarkSent(tx1)
	o.MarkSent(tx2)

	o.UnsendAll()

	row := o.NextUnsent()
	if row == nil || row.TXBase != tx1 {
		t.Fatalf("expected all rows unsent and tx1 head-most, got %+v", row)
	}
}

func TestOutbox_Unsend_SingleRow(t *testing.T) {
	o := New(0)
	tx1 := o.Add([]byte("a"))
	o.Add([]byte("b"))
	o.MarkSent(tx1)

	o.Unsend(tx1)
	row := o.NextUnsent()
	if row == nil || row.TXBase != tx1 {
		t.Fatalf("expected tx1 unsent again, got %+v", row)
	}
}

func TestOutbox_CountUnacked(t *testing.T) {
	o := New(0)
	tx1 := o.Add([]byte("a"))
	o.Add([]byte("b"))
	o.Add([]byte("c"))
	o.Ack(tx1)

	if n := o.CountUnacked(); n != 2 {
		t.Fatalf("expected 2 unacked rows, got %d", n)
	}
}

func TestOutbox_DeleteAll(t *testing.T) {
	o := New(5)
	o.Add([]byte("a"))
	o.Add([]byte("b"))

	o.DeleteAll()
	if o.NextUnsent() != nil {
		t.Fatal("expected empty outbox after DeleteAll")
	}
	if n := o.CountUnacked(); n != 0 {
		t.Fatalf("expected 0 unacked after DeleteAll, got %d", n)
	}

	// tx_base counter must not reset: the server's own stored tx_base
	// drives re-sync, not a local restart from zero.
	tx := o.Add([]byte("c"))
	if tx != 7 {
		t.Fatalf("expected tx_base to continue from 7, got %d", tx)
	}
}

func TestOutbox_MarkSentAndAck_UnknownTXBaseIsNoop(t *testing.T) {
	o := New(0)
	o.Add([]byte("a"))

	o.MarkSent(999)
	o.Ack(999)
	// No panic, and the real row is unaffected.
	if row := o.NextUnsent(); row == nil || row.TXBase != 0 {
		t.Fatalf("expected unrelated row untouched, got %+v", row)
	}
}
