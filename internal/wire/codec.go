package wire

import (
	"encoding/binary"
	"errors"

	"github.com/elektronika-ba/ctrlbase/internal/ctrlcrypto"
)

// MaxFrameSize is the largest encoded frame this codec will produce or accept,
// matching the 16-bit ALL_LEN field's range.
const MaxFrameSize = 0xFFFF

// Errors returned by the frame codec.
var (
	// ErrPayloadTooLong is returned by Encode when the resulting frame would
	// exceed MaxFrameSize.
	ErrPayloadTooLong = errors.New("wire: encoded frame exceeds maximum size")
	// ErrFrameInvalid is returned by Decode for any malformed or inauthentic
	// frame: wrong length, misaligned length, or CMAC mismatch. Per spec such
	// frames must be dropped silently by callers rather than treated as fatal.
	ErrFrameInvalid = errors.New("wire: frame invalid")
)

// allLenFieldSize is the size, in bytes, of the clear-text ALL_LEN prefix.
const allLenFieldSize = 2

// ivFieldSize is the size of the IV field embedded in the encrypted envelope.
const ivFieldSize = 16

// msgLenFieldSize is the size of the MSG_LEN field inside the encrypted envelope.
const msgLenFieldSize = 2

// Codec encodes and decodes CTRL frames: AES-128-CBC encryption with an
// explicit per-frame IV, AES-CMAC authentication (encrypt-then-MAC), and a
// clear-text length prefix so a reassembler can delineate frames without a
// key. A Codec is not safe for concurrent use; the session event loop that
// owns it serializes all calls.
type Codec struct {
	activeKey [16]byte
	nextIV    [16]byte
}

// NewCodec returns a Codec initialized with the zero key, used before a
// session key has been established during authentication phase 1.
func NewCodec() *Codec {
	return &Codec{activeKey: ctrlcrypto.ZeroKey}
}

// SetActiveKey changes the key used for subsequent Encode/Decode calls. The
// IV chain is untouched: it continues from whatever CMAC the last Encode
// produced, per the protocol's authentication handoff from the zero key to
// the session key.
func (c *Codec) SetActiveKey(key [16]byte) {
	c.activeKey = key
}

// SeedIV sets the IV used for the very next Encode call. Called once per
// authorize() with a freshly random value; thereafter the chain advances on
// its own (see Encode).
func (c *Codec) SeedIV(iv [16]byte) {
	c.nextIV = iv
}

// Encode serializes and encrypts msg into a complete on-wire frame. The
// frame's embedded IV field equals the CBC IV this call actually encrypts
// under (which is then advanced to this frame's CMAC for the next call).
func (c *Codec) Encode(msg Message) ([]byte, error) {
	payloadLen := len(msg.Payload)
	msgLength := HeaderSize + payloadLen // 1 (header) + 4 (TXsender) + n

	pad := 16 - ((ivFieldSize + allLenFieldSize + msgLength) % 16)
	// pad is always in [1,16]; never optimize this to 0 even when already aligned.

	innerLen := ivFieldSize + msgLenFieldSize + msgLength + pad
	total := allLenFieldSize + innerLen + ctrlcrypto.CMACSize
	if total > MaxFrameSize {
		return nil, ErrPayloadTooLong
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(innerLen+ctrlcrypto.CMACSize))

	iv := c.nextIV
	copy(buf[2:2+ivFieldSize], iv[:])

	off := 2 + ivFieldSize
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(msgLength))
	off += 2
	buf[off] = byte(msg.Header)
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], msg.TXSender)
	off += 4
	copy(buf[off:off+payloadLen], msg.Payload)
	off += payloadLen

	// Padding content is not required to be random; reuse the current IV
	// bytes as an arbitrary but cheap source, matching the reference
	// implementation's choice.
	for i := 0; i < pad; i++ {
		buf[off+i] = iv[i%16]
	}
	off += pad

	encRegion := buf[2:off]
	if err := ctrlcrypto.EncryptCBC(encRegion, c.activeKey[:], iv[:]); err != nil {
		return nil, err
	}

	tag, err := ctrlcrypto.CMAC(c.activeKey[:], encRegion)
	if err != nil {
		return nil, err
	}
	copy(buf[off:off+ctrlcrypto.CMACSize], tag[:])

	c.nextIV = tag
	return buf, nil
}

// EncodeWithKey is Encode but encrypts and authenticates under key instead
// of the Codec's active key, leaving the active key untouched afterward.
// This exists for the single bootstrap frame of authentication (the
// base_id message), which must be decodable by a peer that doesn't know
// this device's real key yet; the IV chain still advances normally.
func (c *Codec) EncodeWithKey(msg Message, key [16]byte) ([]byte, error) {
	saved := c.activeKey
	c.activeKey = key
	defer func() { c.activeKey = saved }()
	return c.Encode(msg)
}

// Decode parses and decrypts a single complete on-wire frame previously
// extracted by a Reassembler. frame must be exactly ALL_LEN+2 bytes; see
// Reassembler.Feed. Returns ErrFrameInvalid for any malformed or
// inauthentic frame — callers must drop these silently rather than treat
// them as a protocol error.
func (c *Codec) Decode(frame []byte) (*Message, error) {
	if len(frame) < allLenFieldSize {
		return nil, ErrFrameInvalid
	}
	allLen := binary.LittleEndian.Uint16(frame[0:2])
	if len(frame) != int(allLen)+allLenFieldSize {
		return nil, ErrFrameInvalid
	}
	if allLen%16 != 0 {
		return nil, ErrFrameInvalid
	}
	if int(allLen) < ivFieldSize+msgLenFieldSize+HeaderSize+ctrlcrypto.CMACSize {
		return nil, ErrFrameInvalid
	}

	encRegion := frame[allLenFieldSize : allLenFieldSize+int(allLen)-ctrlcrypto.CMACSize]
	tag := frame[allLenFieldSize+int(allLen)-ctrlcrypto.CMACSize:]

	ok, err := ctrlcrypto.VerifyCMAC(c.activeKey[:], encRegion, tag)
	if err != nil || !ok {
		return nil, ErrFrameInvalid
	}

	// The embedded IV field is itself part of the encrypted region and is
	// discarded after decryption (block 0 of a CBC decrypt depends on the IV
	// fed to the cipher, but every subsequent block depends only on the
	// preceding ciphertext block, so a fixed all-zero IV here decrypts every
	// byte that matters correctly regardless of the sender's real chained
	// IV value).
	plain := append([]byte(nil), encRegion...)
	var zeroIV [16]byte
	if err := ctrlcrypto.DecryptCBC(plain, c.activeKey[:], zeroIV[:]); err != nil {
		return nil, ErrFrameInvalid
	}

	off := ivFieldSize
	msgLength := binary.LittleEndian.Uint16(plain[off : off+2])
	off += 2
	if int(msgLength) < HeaderSize {
		return nil, ErrFrameInvalid
	}
	header := Header(plain[off])
	off++
	txSender := binary.LittleEndian.Uint32(plain[off : off+4])
	off += 4

	payloadLen := int(msgLength) - HeaderSize
	if off+payloadLen > len(plain) {
		return nil, ErrFrameInvalid
	}
	payload := append([]byte(nil), plain[off:off+payloadLen]...)

	return &Message{Header: header, TXSender: txSender, Payload: payload}, nil
}
