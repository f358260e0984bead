// Package pow computes the anti-spam proof of work nonce required by
// storage nodes to accept a message.
package pow

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"strconv"
)

// NonceSize is the length of the nonce in bytes.
const NonceSize = 8

var (
	ErrDifficulty = errors.New("proof of work difficulty must be positive")
	ErrNonce      = errors.New("invalid proof of work nonce")
)

// Input is the part of a message covered by the proof of work.
type Input struct {
	// Timestamp in milliseconds since epoch.
	Timestamp uint64
	// TTL in milliseconds.
	TTL uint64
	// Recipient public key.
	Recipient string
	// Base64 encoded message data.
	Data string
}

func (in Input) payload() []byte {
	s := strconv.FormatUint(in.Timestamp, 10) + strconv.FormatUint(in.TTL, 10) + in.Recipient + in.Data
	return []byte(s)
}

// Target returns the largest trial value accepted at the difficulty.
func Target(ttl uint64, payloadSize int, difficulty int) uint64 {
	size := new(big.Int).SetUint64(uint64(payloadSize) + NonceSize)
	ttlSeconds := new(big.Int).SetUint64(ttl / 1000)

	// x3 = ttlSeconds * size / (2^16 - 1)
	x3 := new(big.Int).Mul(ttlSeconds, size)
	x3.Div(x3, big.NewInt(math.MaxUint16))

	// denominator = difficulty * (size + x3)
	den := new(big.Int).Add(size, x3)
	den.Mul(den, big.NewInt(int64(difficulty)))

	target := new(big.Int).SetUint64(math.MaxUint64)
	return target.Div(target, den).Uint64()
}

// Calculate searches for a nonce meeting the target at the difficulty and
// returns it base64 encoded. The search stops when ctx is done.
func Calculate(ctx context.Context, in Input, difficulty int) (string, error) {
	if difficulty < 1 {
		return "", ErrDifficulty
	}

	payload := in.payload()
	target := Target(in.TTL, len(payload), difficulty)
	initial := sha512.Sum512(payload)

	buf := make([]byte, NonceSize+len(initial))
	copy(buf[NonceSize:], initial[:])

	trial := uint64(math.MaxUint64)
	nonce := uint64(0)
	for trial > target {
		if nonce%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		nonce++
		binary.BigEndian.PutUint64(buf[:NonceSize], nonce)
		hash := sha512.Sum512(buf)
		trial = binary.BigEndian.Uint64(hash[:NonceSize])
	}

	return base64.StdEncoding.EncodeToString(buf[:NonceSize]), nil
}

// Verify checks that nonce satisfies the proof of work for in.
func Verify(in Input, nonce string, difficulty int) error {
	if difficulty < 1 {
		return ErrDifficulty
	}
	raw, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(raw) != NonceSize {
		return ErrNonce
	}

	payload := in.payload()
	initial := sha512.Sum512(payload)
	hash := sha512.Sum512(append(raw, initial[:]...))
	if binary.BigEndian.Uint64(hash[:NonceSize]) > Target(in.TTL, len(payload), difficulty) {
		return ErrNonce
	}
	return nil
}
