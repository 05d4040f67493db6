// Package attest signs verification verdicts as JWTs so a later pipeline stage can check, without re-running
// the battery, that this host passed.
package attest

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bcryptcheck/internal/verify"
)

// Verdicts carried in the verdict claim.
const (
	VerdictAllow = "allow"
	VerdictDeny  = "deny"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, expired or from another issuer.
	ErrInvalidToken = errors.New("attest: invalid token")
	// ErrDenied is returned by Check for a valid attestation whose verdict is deny.
	ErrDenied = errors.New("attest: verdict is deny")
)

// Claims is the attestation payload. Subject is the hostname; ID is the run id.
type Claims struct {
	jwt.RegisteredClaims
	RunID          string `json:"run_id"`
	Verdict        string `json:"verdict"`
	Driver         string `json:"driver"`
	HostPlatform   string `json:"host_platform"`
	RuntimeVersion string `json:"runtime_version,omitempty"`
	Passed         int    `json:"passed"`
	Failed         int    `json:"failed"`
	Skipped        int    `json:"skipped"`
}

// Allowed reports whether the attested verdict lets the deployment proceed.
func (c *Claims) Allowed() bool {
	return c != nil && c.Verdict == VerdictAllow
}

// Signer issues attestations using RS256 or ES256.
type Signer struct {
	key    crypto.Signer
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer for key. The key type picks the algorithm.
func NewSigner(key crypto.Signer, issuer string, ttl time.Duration) (*Signer, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	method, err := signingMethod(key.Public())
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, method: method, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Sign attests res with the effective gate verdict allow.
func (s *Signer) Sign(res *verify.Result, allow bool) (string, *Claims, error) {
	if res == nil {
		return "", nil, errors.New("attest: no result to sign")
	}
	now := s.now().UTC()
	counts := res.Counts()
	verdict := VerdictDeny
	if allow && res.Success {
		verdict = VerdictAllow
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        res.RunID,
			Subject:   res.Environment.Hostname,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		RunID:          res.RunID,
		Verdict:        verdict,
		Driver:         res.Driver,
		HostPlatform:   res.Environment.Platform(),
		RuntimeVersion: res.Environment.Runtime.Version,
		Passed:         counts.Passed,
		Failed:         counts.Failed,
		Skipped:        counts.Skipped,
	}
	token, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("attest: sign: %w", err)
	}
	return token, claims, nil
}

// Verifier validates attestations against a public key and issuer.
type Verifier struct {
	pub    crypto.PublicKey
	method jwt.SigningMethod
	issuer string
	now    func() time.Time
}

// NewVerifier returns a Verifier for pub. An empty issuer skips the iss check.
func NewVerifier(pub crypto.PublicKey, issuer string) (*Verifier, error) {
	method, err := signingMethod(pub)
	if err != nil {
		return nil, err
	}
	return &Verifier{pub: pub, method: method, issuer: issuer, now: time.Now}, nil
}

// Verify parses token and validates signature, algorithm, expiry and issuer.
func (v *Verifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.pub, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Check verifies token and additionally requires an allow verdict.
func (v *Verifier) Check(token string) (*Claims, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.Allowed() {
		return claims, fmt.Errorf("%w: run %s failed %d, skipped %d", ErrDenied, claims.RunID, claims.Failed, claims.Skipped)
	}
	return claims, nil
}
