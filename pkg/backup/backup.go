// Package backup seals the saved connection profiles into a password
// protected blob that can be stored off-machine and restored later.
package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/quocson95/duopane/pkg/storage"
)

// Format identifies duopane profile backups
const Format = "duopane-profiles"

// Version of the envelope layout
const Version = 1

// ErrWrongPassword is returned when the blob cannot be opened with the
// given password. A corrupted blob looks the same.
var ErrWrongPassword = errors.New("wrong password or corrupted backup")

// KDFParams are the Argon2id parameters used to derive the sealing key
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
}

// DefaultKDF is memory-hard enough for an interactive restore
var DefaultKDF = KDFParams{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 4,
}

const (
	keyLen   = 32
	saltLen  = 32
	nonceLen = 12
)

// Envelope is the stored form of a backup. Byte slices are base64 in JSON.
type Envelope struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	Created    time.Time `json:"created"`
	Profiles   int       `json:"profiles"`
	KDF        KDFParams `json:"kdf"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// header is authenticated with the ciphertext so it cannot be altered
func (e *Envelope) header() []byte {
	return []byte(fmt.Sprintf("%s/%d/%d/%d/%d/%d", e.Format, e.Version, e.Profiles, e.KDF.Time, e.KDF.Memory, e.KDF.Threads))
}

func deriveKey(password string, salt []byte, p KDFParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, keyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts profiles, credentials included, with AES-256-GCM under a key
// derived from password.
func Seal(profiles []storage.Profile, password string, kdf KDFParams) ([]byte, error) {
	if password == "" {
		return nil, errors.New("backup password is required")
	}
	if profiles == nil {
		profiles = []storage.Profile{}
	}
	plaintext, err := json.Marshal(profiles)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profiles: %w", err)
	}

	env := &Envelope{
		Format:   Format,
		Version:  Version,
		Created:  time.Now().UTC().Truncate(time.Second),
		Profiles: len(profiles),
		KDF:      kdf,
		Salt:     make([]byte, saltLen),
		Nonce:    make([]byte, nonceLen),
	}
	if _, err := rand.Read(env.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, env.Salt, kdf))
	if err != nil {
		return nil, err
	}
	env.Ciphertext = gcm.Seal(nil, env.Nonce, plaintext, env.header())

	return json.MarshalIndent(env, "", "  ")
}

// Inspect reads the envelope without decrypting it
func Inspect(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid backup format: %w", err)
	}
	if env.Format != Format {
		return nil, fmt.Errorf("not a profile backup (format %q)", env.Format)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("unsupported backup version %d", env.Version)
	}
	if len(env.Salt) != saltLen || len(env.Nonce) != nonceLen {
		return nil, errors.New("invalid backup format: bad salt or nonce")
	}
	return &env, nil
}

// Open decrypts a blob produced by Seal
func Open(data []byte, password string) ([]storage.Profile, error) {
	env, err := Inspect(data)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(deriveKey(password, env.Salt, env.KDF))
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, env.header())
	if err != nil {
		return nil, ErrWrongPassword
	}

	var profiles []storage.Profile
	if err := json.Unmarshal(plaintext, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse backup data: %w", err)
	}
	return profiles, nil
}
