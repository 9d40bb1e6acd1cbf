/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package keyxchg implements the TLS-style unicast handshake that
// delivers the sender's symmetric MAC key to a receiver, encrypted to
// the receiver's ephemeral public key.
//
// Wire framing on the unicast stream, sender side: read a length-prefixed
// receiver public key (PEM bytes), write a length-prefixed ciphertext
// (the MAC key encrypted to that public key). Receiver side is
// symmetric: generate a keypair, write the length-prefixed public key,
// read the length-prefixed ciphertext, decrypt.
package keyxchg

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/unidata/fmtp/fmtp/ferrors"
)

// rsaKeyBits is the modulus size for the ephemeral per-connection
// handshake keypair. 2048 bits comfortably wraps a 64-byte HMAC key or
// 32-byte Ed25519 public key under OAEP-SHA256 (max plaintext = 2048/8
// - 2*32 - 2 = 190 bytes).
const rsaKeyBits = 2048

// maxFrameLen bounds the length-prefixed frames exchanged during the
// handshake, guarding against a malformed or hostile peer claiming an
// enormous length.
const maxFrameLen = 1 << 16

// ReceiverIdentity is the ephemeral keypair a receiver presents during
// the handshake.
type ReceiverIdentity struct {
	Private *rsa.PrivateKey
}

// NewReceiverIdentity generates a fresh ephemeral RSA keypair.
func NewReceiverIdentity() (*ReceiverIdentity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("keyxchg: generating handshake keypair: %w", err)
	}
	return &ReceiverIdentity{Private: priv}, nil
}

// PublicKeyPEM encodes the receiver's public key as PEM bytes, for
// writing as the length-prefixed first frame of the handshake.
func (r *ReceiverIdentity) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&r.Private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keyxchg: marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// WritePublicKey writes the length-prefixed PEM public key frame.
func (r *ReceiverIdentity) WritePublicKey(w io.Writer) error {
	pemBytes, err := r.PublicKeyPEM()
	if err != nil {
		return err
	}
	return writeFrame(w, pemBytes)
}

// ReadKey reads the length-prefixed ciphertext frame and decrypts it
// with the receiver's private key, returning the sender's MAC key.
func (r *ReceiverIdentity) ReadKey(rd io.Reader) ([]byte, error) {
	ciphertext, err := readFrame(rd)
	if err != nil {
		return nil, err
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, r.Private, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting MAC key: %v", ferrors.ErrCrypto, err)
	}
	return key, nil
}

// ReadReceiverPublicKey reads the length-prefixed PEM public key frame
// from the sender side of the handshake.
func ReadReceiverPublicKey(rd io.Reader) (*rsa.PublicKey, error) {
	pemBytes, err := readFrame(rd)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: handshake public key is not valid PEM", ferrors.ErrCrypto)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing handshake public key: %v", ferrors.ErrCrypto, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: handshake public key is not RSA", ferrors.ErrCrypto)
	}
	return rsaPub, nil
}

// EncryptKey encrypts the MAC key to the receiver's public key and
// writes the length-prefixed ciphertext frame. This is the sender side
// of the handshake, invoked once per newly Handshaking connection.
func EncryptKey(w io.Writer, pub *rsa.PublicKey, key []byte) error {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return fmt.Errorf("%w: encrypting MAC key: %v", ferrors.ErrCrypto, err)
	}
	return writeFrame(w, ciphertext)
}

func writeFrame(w io.Writer, b []byte) error {
	if len(b) > maxFrameLen {
		return fmt.Errorf("keyxchg: frame of %d bytes exceeds max %d", len(b), maxFrameLen)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: writing frame length: %v", ferrors.ErrIO, err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%w: writing frame body: %v", ferrors.ErrIO, err)
	}
	return nil
}

func readFrame(rd io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(rd, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading frame length: %v", ferrors.ErrIO, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("keyxchg: peer frame length %d exceeds max %d", n, maxFrameLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		return nil, fmt.Errorf("%w: reading frame body: %v", ferrors.ErrIO, err)
	}
	return b, nil
}
