// Package secret holds the manifest signing key. The key lives in a memguard
// enclave and is decrypted into locked memory only for the duration of a
// sign or verify call.
package secret

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/roach88/rotd/internal/fault"
)

// MinLen is the minimum acceptable key length in bytes.
const MinLen = 32

// DefaultEnv is the environment variable the key is read from by default.
const DefaultEnv = "ROT_KEY"

// ErrTooShort is returned when a key does not meet MinLen.
var ErrTooShort = fmt.Errorf("secret must be at least %d bytes", MinLen)

// Key is a sealed HMAC key. The zero value is unusable; build one with New
// or FromEnv.
type Key struct {
	enclave *memguard.Enclave
}

// New seals b into an enclave. b is wiped.
func New(b []byte) (*Key, error) {
	if len(b) < MinLen {
		memguard.WipeBytes(b)
		return nil, fault.New(fault.KindConfig, "load secret", "", ErrTooShort)
	}
	return &Key{enclave: memguard.NewEnclave(b)}, nil
}

// FromEnv reads the key from the named environment variable.
// A missing or short key is a ConfigError.
func FromEnv(name string) (*Key, error) {
	if name == "" {
		name = DefaultEnv
	}
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil, fault.New(fault.KindConfig, "load secret", name, errors.New("environment variable not set"))
	}
	k, err := New([]byte(v))
	if err != nil {
		return nil, fault.New(fault.KindConfig, "load secret", name, ErrTooShort)
	}
	return k, nil
}

// Use opens the enclave, passes the plaintext key to fn and destroys the
// plaintext afterwards. fn must not retain the slice.
func (k *Key) Use(fn func(key []byte) error) error {
	if k == nil || k.enclave == nil {
		return fault.New(fault.KindConfig, "open secret", "", errors.New("key not loaded"))
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("open secret: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}
