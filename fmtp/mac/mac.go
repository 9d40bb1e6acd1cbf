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

// Package mac implements the FMTPv3 MAC subsystem: a sealed family of
// message-authentication modes (off/hmac/dsa) computed over the header
// bytes (network order) followed by the payload.
package mac

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// Mode selects which MAC implementation is active for a process.
type Mode int

// Mode values, matching FMTP_MAC_LEVEL 0/1/2.
const (
	ModeOff Mode = iota
	ModeHMAC
	ModeDSA
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeHMAC:
		return "hmac"
	case ModeDSA:
		return "dsa"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// hmacKeyLen is the length in bytes of the symmetric HMAC key.
const hmacKeyLen = 64

// Mac is the sealed interface every MAC mode implements. It is
// constructed once by the sender (which generates a key) and
// reconstructed on each receiver from the key published by the sender.
type Mac interface {
	// Mode reports which mode this implementation is.
	Mode() Mode
	// Len is the MAC_LEN for this mode: 0, 32 (hmac), or 64 (dsa).
	Len() int
	// Key returns the bytes to publish to receivers via the key
	// exchange handshake. Empty for ModeOff.
	Key() []byte
	// Tag computes the MAC over header||payload.
	Tag(header, payload []byte) []byte
	// Verify checks a MAC previously produced by Tag.
	Verify(header, payload, tag []byte) bool
}

// New constructs a Mac for the given mode, generating a fresh key. This
// is the sender side of the constructor contract; receivers reconstruct
// their Mac from the published key via FromKey.
func New(mode Mode) (Mac, error) {
	switch mode {
	case ModeOff:
		return offMac{}, nil
	case ModeHMAC:
		key := make([]byte, hmacKeyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("mac: generating hmac key: %w", err)
		}
		return hmacMac{key: key}, nil
	case ModeDSA:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("mac: generating ed25519 key: %w", err)
		}
		return dsaMac{pub: pub, priv: priv}, nil
	default:
		return nil, fmt.Errorf("mac: unknown mode %v", mode)
	}
}

// FromKey reconstructs a Mac on the receiver from the key bytes
// published by the sender over the key-exchange handshake.
func FromKey(mode Mode, key []byte) (Mac, error) {
	switch mode {
	case ModeOff:
		return offMac{}, nil
	case ModeHMAC:
		if len(key) != hmacKeyLen {
			return nil, fmt.Errorf("mac: hmac key must be %d bytes, got %d", hmacKeyLen, len(key))
		}
		return hmacMac{key: append([]byte(nil), key...)}, nil
	case ModeDSA:
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("mac: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
		}
		return dsaMac{pub: append(ed25519.PublicKey(nil), key...)}, nil
	default:
		return nil, fmt.Errorf("mac: unknown mode %v", mode)
	}
}

// offMac: verification always succeeds for an empty MAC.
type offMac struct{}

func (offMac) Mode() Mode                          { return ModeOff }
func (offMac) Len() int                             { return 0 }
func (offMac) Key() []byte                          { return nil }
func (offMac) Tag(_, _ []byte) []byte               { return nil }
func (offMac) Verify(_, _ []byte, tag []byte) bool {
	return len(tag) == 0
}

// hmacMac: symmetric HMAC-SHA-256 over header||payload.
type hmacMac struct {
	key []byte
}

func (hmacMac) Mode() Mode  { return ModeHMAC }
func (hmacMac) Len() int    { return sha256.Size }
func (h hmacMac) Key() []byte {
	return h.key
}

func (h hmacMac) Tag(header, payload []byte) []byte {
	mac := hmac.New(sha256.New, h.key)
	mac.Write(header)
	mac.Write(payload)
	return mac.Sum(nil)
}

func (h hmacMac) Verify(header, payload, tag []byte) bool {
	want := h.Tag(header, payload)
	return subtle.ConstantTimeCompare(want, tag) == 1
}

// dsaMac: Ed25519 signature over header||payload.
type dsaMac struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func (dsaMac) Mode() Mode { return ModeDSA }
func (dsaMac) Len() int   { return ed25519.SignatureSize }
func (d dsaMac) Key() []byte {
	return d.pub
}

func (d dsaMac) Tag(header, payload []byte) []byte {
	msg := append(append([]byte(nil), header...), payload...)
	return ed25519.Sign(d.priv, msg)
}

func (d dsaMac) Verify(header, payload, tag []byte) bool {
	msg := append(append([]byte(nil), header...), payload...)
	return ed25519.Verify(d.pub, msg, tag)
}
