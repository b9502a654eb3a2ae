// Package wire implements the CTRL protocol's on-wire frame codec (encrypted,
// CMAC-authenticated, length-prefixed frames) and the TCP-stream reassembly
// buffer that extracts whole frames from arbitrary transport fragmentation.
package wire

// Header is the CTRL frame header bitfield (HDR in spec.md §3).
type Header uint8

const (
	// HeaderACK marks a frame as an acknowledgement of a prior frame.
	HeaderACK Header = 1 << iota
	// HeaderProcessed marks an ACK as confirming the sender accepted the message.
	HeaderProcessed
	// HeaderOutOfSync marks an ACK as reporting that TXsender was higher than expected.
	HeaderOutOfSync
	// HeaderBackoff, in an ACK from the peer, acknowledges our BACKOFF request;
	// in an ACK we send, asks the peer to back off.
	HeaderBackoff
	// HeaderSaveTXServer marks an ACK as carrying a 4-byte TXserver value to persist.
	HeaderSaveTXServer
	// HeaderNotification marks a best-effort, non-ACKed, fire-and-forget message.
	HeaderNotification
	// HeaderSync, during authentication, means "I have nothing pending; reset counter to zero".
	HeaderSync
	// HeaderSystemMessage marks a payload as an intra-protocol system command.
	HeaderSystemMessage
)

// Has reports whether all bits in mask are set in h.
func (h Header) Has(mask Header) bool {
	return h&mask == mask
}

// HeaderSize is the fixed portion of a message (header byte + TXsender) in bytes.
const HeaderSize = 1 + 4

// Message is the decoded, decrypted in-memory CTRL message (spec.md §3).
type Message struct {
	Header   Header
	TXSender uint32
	Payload  []byte
}

// Length returns the CTRL message length field: header + TXsender + payload.
func (m Message) Length() uint16 {
	return uint16(HeaderSize + len(m.Payload))
}
