// Package capability defines the hashing capability a verification run exercises: a bcrypt implementation
// exposing blocking and non-blocking variants of genSalt, hash and compare, plus cost extraction.
//
// Drivers live in subpackages: gobcrypt wraps golang.org/x/crypto/bcrypt, nodebcrypt drives the native
// Node.js addon installed in a project.
package capability

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the capability could not be constructed or stopped responding (e.g. the native
	// component failed to load on this platform). Checks that need a working capability are skipped.
	ErrUnavailable = errors.New("capability: unavailable")

	// ErrInvalidSalt is returned when a salt is not a bcrypt setting string ($2b$NN$ + 22 chars).
	ErrInvalidSalt = errors.New("capability: invalid salt")

	// ErrInvalidDigest is returned when a digest cannot be parsed as a bcrypt hash.
	ErrInvalidDigest = errors.New("capability: invalid digest")

	// ErrInvalidCost is returned when a cost factor is outside [MinCost, MaxCost].
	ErrInvalidCost = errors.New("capability: invalid cost")
)

// Cost bounds shared by every bcrypt implementation.
const (
	MinCost = 4
	MaxCost = 31
)

// RuntimeInfo describes what backs a capability. For the node driver it is the node process that loaded
// the addon; for the Go driver it is the current process.
type RuntimeInfo struct {
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version" yaml:"version"`
	Platform string `json:"platform" yaml:"platform"`
	Arch     string `json:"arch" yaml:"arch"`
	// Module is the loaded hashing package and its version, e.g. "bcrypt@5.1.1".
	Module string `json:"module,omitempty" yaml:"module,omitempty"`
}

// Capability is a bcrypt implementation under test. Blocking methods correspond to the *Sync API of the
// native addon, the *Async methods to its promise API. Both families must be backed by the same
// implementation so that digests are interchangeable between them.
type Capability interface {
	// Name identifies the driver (e.g. "go", "node").
	Name() string
	// Runtime reports the runtime backing the capability.
	Runtime() RuntimeInfo

	// GenSalt returns a fresh random bcrypt salt encoding cost.
	GenSalt(cost int) (string, error)
	// Hash hashes plaintext with a salt produced by GenSalt.
	Hash(plaintext, salt string) (string, error)
	// Compare reports whether plaintext matches digest.
	Compare(plaintext, digest string) (bool, error)
	// Rounds extracts the cost factor encoded in digest.
	Rounds(digest string) (int, error)

	GenSaltAsync(ctx context.Context, cost int) Future[string]
	HashAsync(ctx context.Context, plaintext, salt string) Future[string]
	CompareAsync(ctx context.Context, plaintext, digest string) Future[bool]

	// Close releases resources (child processes). Safe to call more than once.
	Close() error
}

// Loader constructs a Capability. A returned error means the capability is unavailable on this host.
type Loader func(ctx context.Context) (Capability, error)

// Static returns a Loader that always yields c.
func Static(c Capability) Loader {
	return func(context.Context) (Capability, error) {
		if c == nil {
			return nil, ErrUnavailable
		}
		return c, nil
	}
}

// ValidCost reports whether cost is within the bcrypt range.
func ValidCost(cost int) bool {
	return cost >= MinCost && cost <= MaxCost
}
