package crypto

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// KeySetting is the settings key holding the encoded fernet key.
const KeySetting = "fernet_key"

// ErrInvalidToken is returned when a sealed value fails verification.
var ErrInvalidToken = errors.New("decrypt: invalid token")

// KeyStore persists the fernet key between runs.
type KeyStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Sealer encrypts server and proxy credentials at rest.
type Sealer struct {
	key *fernet.Key
}

// NewSealer returns a Sealer using key.
func NewSealer(key *fernet.Key) *Sealer {
	return &Sealer{key: key}
}

// LoadOrCreate reads the fernet key from ks, generating and saving a new one
// when none exists yet.
func LoadOrCreate(ks KeyStore) (*Sealer, error) {
	keyStr, err := ks.GetSetting(KeySetting)
	if err != nil || keyStr == "" {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		if err := ks.SetSetting(KeySetting, k.Encode()); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		return NewSealer(&k), nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return NewSealer(key), nil
}

// Seal encrypts plaintext. The empty string stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), s.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{s.key})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}

// Mask hides all but the last four characters of value.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
