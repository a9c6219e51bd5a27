package spool

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/0xA1M/sentinel-watch/internal/models"
)

// Segment layout on disk:
//
//	[ 4-byte magic "LGQ1" ]
//	[ 16-byte random salt ]
//	[ 12-byte random nonce ]
//	[ AES-256-GCM ciphertext || 16-byte auth tag ]
//
// The key is derived per segment from the deployment secret and the salt,
// so two segments never share a key. Plaintext segments (encryption
// disabled) carry the "LGQ0" magic and the raw JSON payload.
const (
	saltLength    = 16
	nonceLength   = 12
	keyLength     = 32
	kdfIterations = 100_000
)

var (
	magicEncrypted = []byte("LGQ1")
	magicPlaintext = []byte("LGQ0")

	// ErrSegmentTooShort indicates a truncated or empty segment file.
	ErrSegmentTooShort = errors.New("spool: segment too short")
	// ErrBadMagic indicates the file is not a spool segment.
	ErrBadMagic = errors.New("spool: bad segment magic")
	// ErrAuthFailed indicates tampering or a wrong deployment secret.
	ErrAuthFailed = errors.New("spool: segment authentication failed")
)

// Payload is the serialized form of one flush cycle.
type Payload struct {
	FileEvents     []models.FileEvent     `json:"file_events"`
	NetworkEvents  []models.NetworkEvent  `json:"network_events"`
	AppUsageEvents []models.AppUsageEvent `json:"app_usage_events"`
	Alerts         []models.AlertEvent    `json:"alerts"`
}

// Len returns the total number of events in the payload.
func (p *Payload) Len() int {
	return len(p.FileEvents) + len(p.NetworkEvents) + len(p.AppUsageEvents) + len(p.Alerts)
}

func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, kdfIterations, keyLength, sha256.New)
}

// Seal serializes and encrypts a payload into segment bytes.
func Seal(secret string, payload *Payload) ([]byte, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("spool: marshal payload: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("spool: generate salt: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("spool: generate nonce: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("spool: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("spool: init gcm: %w", err)
	}

	out := make([]byte, 0, len(magicEncrypted)+saltLength+nonceLength+len(plaintext)+gcm.Overhead())
	out = append(out, magicEncrypted...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	return out, nil
}

// SealPlaintext serializes a payload without encryption.
func SealPlaintext(payload *Payload) ([]byte, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("spool: marshal payload: %w", err)
	}
	return append(append([]byte{}, magicPlaintext...), plaintext...), nil
}

// Open authenticates and decodes segment bytes. Any modification of an
// encrypted segment, down to a single flipped bit, fails with ErrAuthFailed.
func Open(secret string, data []byte) (*Payload, error) {
	if len(data) < len(magicEncrypted) {
		return nil, ErrSegmentTooShort
	}

	if bytes.Equal(data[:len(magicPlaintext)], magicPlaintext) {
		return decodePayload(data[len(magicPlaintext):])
	}

	if !bytes.Equal(data[:len(magicEncrypted)], magicEncrypted) {
		return nil, ErrBadMagic
	}

	rest := data[len(magicEncrypted):]
	if len(rest) < saltLength+nonceLength {
		return nil, ErrSegmentTooShort
	}

	salt := rest[:saltLength]
	nonce := rest[saltLength : saltLength+nonceLength]
	ciphertext := rest[saltLength+nonceLength:]

	block, err := aes.NewCipher(deriveKey(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("spool: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("spool: init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return decodePayload(plaintext)
}

func decodePayload(plaintext []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("spool: decode payload: %w", err)
	}
	return &payload, nil
}
