package chain

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"

	"filippo.io/edwards25519"
	"github.com/go-faster/errors"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned for malformed Solana addresses.
var ErrInvalidAddress = errors.New("invalid solana address")

// DecodeAddress decodes a base58 Solana address to its 32 bytes.
func DecodeAddress(addr string) ([]byte, error) {
	raw, err := base58.Decode(strings.TrimSpace(addr))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: %v", addr, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: %d bytes", addr, len(raw))
	}
	return raw, nil
}

// ValidateWalletAddress checks that addr is a base58 ed25519 public key on
// the curve. Program-derived addresses are off the curve and cannot sign, so
// they are rejected as transfer recipients.
func ValidateWalletAddress(addr string) error {
	raw, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return errors.Wrapf(ErrInvalidAddress, "%q is not on the ed25519 curve", addr)
	}
	return nil
}

// ParseSecretKey accepts a 64-byte secret key as base58 or as the JSON byte
// array written by solana-keygen, and returns it base58 encoded.
func ParseSecretKey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty secret key")
	}

	var raw []byte
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return "", errors.Wrap(err, "decode secret key array")
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return "", errors.Errorf("secret key byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
	} else {
		var err error
		if raw, err = base58.Decode(s); err != nil {
			return "", errors.Wrap(err, "decode secret key")
		}
	}

	if len(raw) != ed25519.PrivateKeySize {
		return "", errors.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if string(derived[ed25519.SeedSize:]) != string(raw[ed25519.SeedSize:]) {
		return "", errors.New("secret key public half does not match its seed")
	}
	return base58.Encode(raw), nil
}
