// Package gobcrypt is the reference hashing capability backed by golang.org/x/crypto/bcrypt.
// It has no native component, so it doubles as a known-good baseline for the verification battery.
package gobcrypt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"

	"bcryptcheck/internal/capability"
)

// Name is the driver name reported by Capability.Name.
const Name = "go"

// Capability implements capability.Capability with x/crypto/bcrypt. Safe for concurrent use.
//
// x/crypto/bcrypt draws its own salt for every hash, so Hash honours only the cost carried by the salt
// argument; the salt is still validated so malformed input is rejected the same way the addon rejects it.
// Plaintexts longer than 72 bytes are truncated as the native addon does; x/crypto rejects them instead.
type Capability struct {
	closed atomic.Bool
}

// New returns a ready Capability.
func New() *Capability {
	return &Capability{}
}

// Loader returns a capability.Loader for this driver.
func Loader() capability.Loader {
	return func(context.Context) (capability.Capability, error) {
		return New(), nil
	}
}

// Name returns "go".
func (c *Capability) Name() string { return Name }

// Runtime reports the current Go runtime.
func (c *Capability) Runtime() capability.RuntimeInfo {
	return capability.RuntimeInfo{
		Name:     "go",
		Version:  runtime.Version(),
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		Module:   "golang.org/x/crypto/bcrypt",
	}
}

// GenSalt returns a $2b$ setting string with 16 fresh random bytes.
func (c *Capability) GenSalt(cost int) (string, error) {
	if err := c.usable(); err != nil {
		return "", err
	}
	raw := make([]byte, capability.SaltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("gobcrypt: read salt: %w", err)
	}
	return capability.EncodeSalt(cost, raw)
}

// Hash produces a bcrypt digest of plaintext at the cost encoded in salt.
func (c *Capability) Hash(plaintext, salt string) (string, error) {
	if err := c.usable(); err != nil {
		return "", err
	}
	cost, err := capability.SaltCost(salt)
	if err != nil {
		return "", err
	}
	b, err := bcrypt.GenerateFromPassword(truncate(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("gobcrypt: hash: %w", err)
	}
	return string(b), nil
}

// Compare verifies plaintext against digest using constant-time comparison. A mismatch is (false, nil);
// a malformed digest is an error wrapping capability.ErrInvalidDigest.
func (c *Capability) Compare(plaintext, digest string) (bool, error) {
	if err := c.usable(); err != nil {
		return false, err
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), truncate(plaintext))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", capability.ErrInvalidDigest, err)
	}
	return true, nil
}

// Rounds returns the cost factor encoded in digest.
func (c *Capability) Rounds(digest string) (int, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", capability.ErrInvalidDigest, err)
	}
	return cost, nil
}

// GenSaltAsync runs GenSalt on a goroutine.
func (c *Capability) GenSaltAsync(_ context.Context, cost int) capability.Future[string] {
	return capability.Go(func() (string, error) { return c.GenSalt(cost) })
}

// HashAsync runs Hash on a goroutine.
func (c *Capability) HashAsync(_ context.Context, plaintext, salt string) capability.Future[string] {
	return capability.Go(func() (string, error) { return c.Hash(plaintext, salt) })
}

// CompareAsync runs Compare on a goroutine.
func (c *Capability) CompareAsync(_ context.Context, plaintext, digest string) capability.Future[bool] {
	return capability.Go(func() (bool, error) { return c.Compare(plaintext, digest) })
}

// Close marks the capability unusable; later calls fail with capability.ErrUnavailable.
func (c *Capability) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Capability) usable() error {
	if c.closed.Load() {
		return fmt.Errorf("%w: gobcrypt capability closed", capability.ErrUnavailable)
	}
	return nil
}

// maxPlaintextBytes is the bcrypt key limit; bytes past it never reach the cipher.
const maxPlaintextBytes = 72

func truncate(plaintext string) []byte {
	b := []byte(plaintext)
	if len(b) > maxPlaintextBytes {
		b = b[:maxPlaintextBytes]
	}
	return b
}
