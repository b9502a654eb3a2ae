// Package ctrlcrypto implements the CTRL protocol's cryptographic primitives:
// AES-128-CBC encryption and AES-CMAC authentication. Both are built directly
// on crypto/aes and crypto/cipher with no third-party dependency, matching
// the zero-dependency requirement of the protocol this package implements.
package ctrlcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// KeySize is the AES-128 key size in bytes.
const KeySize = 16

// BlockSize is the AES block size in bytes; CBC operates on whole blocks.
const BlockSize = aes.BlockSize

// ErrNotBlockAligned is returned when a buffer length is not a multiple of BlockSize.
var ErrNotBlockAligned = errors.New("ctrlcrypto: buffer length not a multiple of block size")

// ZeroKey is the all-zero AES-128 key used during authentication phase 1,
// before the session key has been exchanged.
var ZeroKey = [KeySize]byte{}

// EncryptCBC encrypts buf in place under key using AES-128-CBC with the given iv.
// len(buf) must be a non-zero multiple of BlockSize. iv is not modified.
func EncryptCBC(buf []byte, key, iv []byte) error {
	if len(buf) == 0 || len(buf)%BlockSize != 0 {
		return ErrNotBlockAligned
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(buf, buf)
	return nil
}

// DecryptCBC decrypts buf in place under key using AES-128-CBC with the given iv.
// len(buf) must be a non-zero multiple of BlockSize. iv is not modified.
func DecryptCBC(buf []byte, key, iv []byte) error {
	if len(buf) == 0 || len(buf)%BlockSize != 0 {
		return ErrNotBlockAligned
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(buf, buf)
	return nil
}
