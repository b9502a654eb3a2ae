// Package sessiontest provides fake collaborators for testing
// internal/session without a real TCP connection: a transport that
// records frames instead of writing them to a socket, and a peer that
// speaks the wire protocol well enough to drive a Session through
// authentication and steady-state delivery from the test goroutine.
package sessiontest

import (
	"sync"

	"github.com/elektronika-ba/ctrlbase/internal/ctrlcrypto"
	"github.com/elektronika-ba/ctrlbase/internal/wire"
)

// FakeTransport records every frame handed to SendFrame instead of writing
// it anywhere. Tests drain it with Take and feed replies back into the
// Session under test via Session.RecvBytes, from a goroutine other than
// the Session's own — exactly as a real read loop would.
type FakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
}

// SetSendErr makes every subsequent SendFrame call fail with err.
func (t *FakeTransport) SetSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// SendFrame implements session.Transport.
func (t *FakeTransport) SendFrame(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.frames = append(t.frames, append([]byte(nil), frame...))
	return nil
}

// Take returns every frame recorded so far and clears the buffer.
func (t *FakeTransport) Take() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.frames
	t.frames = nil
	return out
}

// Len reports how many frames are currently buffered.
func (t *FakeTransport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// Peer simulates the server side of the CTRL protocol: enough of
// ctrl_stack.c's state machine to authenticate a Session and exchange
// application frames with it. It decodes frames a Session sent under the
// real key, except the very first which it decodes under the zero key,
// mirroring the bootstrap handoff in internal/wire.Codec.
type Peer struct {
	codec    *wire.Codec
	key      [16]byte
	txServer uint32 // the Peer's view of the counter the Session maintains for us
	txBase   uint32 // next tx_base the Peer will use when sending fresh frames to the Session
	phase    int
}

// NewPeer returns a Peer ready to authenticate a Session configured with
// key. txServer is the counter value the Peer reports back to the Session
// during phase 2 of the handshake when EncodeAuthResult is called with
// sync=false; the SYNC reset path is chosen by EncodeAuthResult's argument.
func NewPeer(key [16]byte, txServer uint32) *Peer {
	return &Peer{codec: wire.NewCodec(), key: key, txServer: txServer, txBase: 1}
}

// DecodeBootstrap decodes the first frame a Session sends (the base_id
// message), which travels under the universal zero key.
func (p *Peer) DecodeBootstrap(frame []byte) (*wire.Message, error) {
	p.codec.SetActiveKey(ctrlcrypto.ZeroKey)
	msg, err := p.codec.Decode(frame)
	p.codec.SetActiveKey(p.key)
	return msg, err
}

// Decode decodes a frame under the Peer's real key.
func (p *Peer) Decode(frame []byte) (*wire.Message, error) {
	return p.codec.Decode(frame)
}

// EncodeChallenge builds the phase-1 response: a 16-byte challenge, sent
// under the real key (the Peer already knows it from the base_id lookup).
func (p *Peer) EncodeChallenge(challenge [16]byte) ([]byte, error) {
	return p.codec.Encode(wire.Message{TXSender: 0, Payload: challenge[:]})
}

// EncodeAuthResult builds the phase-2 response: either a SYNC-flagged
// reset or the 4-byte TXserver value the Peer is resuming from.
func (p *Peer) EncodeAuthResult(sync bool) ([]byte, error) {
	if sync {
		return p.codec.Encode(wire.Message{Header: wire.HeaderSync, TXSender: 0})
	}
	buf := make([]byte, 4)
	buf[0] = byte(p.txServer)
	buf[1] = byte(p.txServer >> 8)
	buf[2] = byte(p.txServer >> 16)
	buf[3] = byte(p.txServer >> 24)
	return p.codec.Encode(wire.Message{TXSender: 0, Payload: buf})
}

// EncodeFresh builds a fresh (non-ACK) message from the Peer to the
// Session, using and advancing the Peer's own tx_base counter.
func (p *Peer) EncodeFresh(header wire.Header, payload []byte) ([]byte, error) {
	msg := wire.Message{Header: header, TXSender: p.txBase, Payload: payload}
	if !header.Has(wire.HeaderNotification) {
		p.txBase++
	}
	return p.codec.Encode(msg)
}

// EncodeFreshWithTXSender builds a fresh message with an explicit
// tx_sender, for tests that need to force a duplicate or a gap.
func (p *Peer) EncodeFreshWithTXSender(header wire.Header, txSender uint32, payload []byte) ([]byte, error) {
	return p.codec.Encode(wire.Message{Header: header, TXSender: txSender, Payload: payload})
}

// EncodeAck builds an ACK frame from the Peer, acknowledging the given
// tx_base with the given header flags (OUT_OF_SYNC, BACKOFF, ...).
func (p *Peer) EncodeAck(header wire.Header, txBase uint32) ([]byte, error) {
	return p.codec.Encode(wire.Message{Header: header | wire.HeaderACK, TXSender: txBase})
}
