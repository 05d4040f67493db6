package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bcryptcheck/internal/capability"
)

// Check names, in run order.
const (
	CheckEnvironment     = "environment"
	CheckAvailability    = "capability availability"
	CheckSyncRoundTrip   = "round-trip (sync)"
	CheckAsyncRoundTrip  = "round-trip (async)"
	CheckInterop         = "sync/async interop"
	CheckCostSensitivity = "cost sensitivity"
	CheckEdgeEmpty       = "edge case (empty)"
	CheckEdgeLong        = "edge case (long)"
	CheckEdgeSpecial     = "edge case (special characters)"
	CheckSaltUniqueness  = "salt uniqueness"
	CheckLatency         = "latency"
)

// Fixed plaintexts used by the battery.
const (
	KnownPlaintext   = "TestPassword123!"
	WrongPlaintext   = "WrongPassword"
	SpecialPlaintext = "!@#$%^&*()_+-=[]{}|;':\",./<>?`~\\ \t"
)

// LongPlaintext is 100 repetitions of "a".
var LongPlaintext = strings.Repeat("a", 100)

// testCase is one plaintext the battery round-trips.
type testCase struct {
	name      string
	plaintext string
	cost      int
	expected  bool
}

type check struct {
	name string
	path Path
	run  func(ctx context.Context, c capability.Capability) (string, error)
}

// battery lists the capability checks in run order. res receives the latency sample.
func (r *Runner) battery(res *Result) []check {
	o := r.opts
	edge := func(tc testCase) check {
		return check{name: tc.name, path: PathSync, run: func(_ context.Context, c capability.Capability) (string, error) {
			return edgeCase(c, tc)
		}}
	}
	return []check{
		{name: CheckSyncRoundTrip, path: PathSync, run: func(_ context.Context, c capability.Capability) (string, error) {
			return syncRoundTrip(c, o.NominalCost)
		}},
		{name: CheckAsyncRoundTrip, path: PathAsync, run: func(ctx context.Context, c capability.Capability) (string, error) {
			return asyncRoundTrip(ctx, c, o.NominalCost)
		}},
		{name: CheckInterop, path: PathMixed, run: func(ctx context.Context, c capability.Capability) (string, error) {
			return interop(ctx, c, o.NominalCost)
		}},
		{name: CheckCostSensitivity, path: PathSync, run: func(_ context.Context, c capability.Capability) (string, error) {
			return costSensitivity(c, o.LowCost, o.HighCost)
		}},
		edge(testCase{name: CheckEdgeEmpty, plaintext: "", cost: o.NominalCost, expected: true}),
		edge(testCase{name: CheckEdgeLong, plaintext: LongPlaintext, cost: o.NominalCost, expected: true}),
		edge(testCase{name: CheckEdgeSpecial, plaintext: SpecialPlaintext, cost: o.NominalCost, expected: true}),
		{name: CheckSaltUniqueness, path: PathSync, run: func(_ context.Context, c capability.Capability) (string, error) {
			return saltUniqueness(c, o.NominalCost)
		}},
		{name: CheckLatency, path: PathSync, run: func(_ context.Context, c capability.Capability) (string, error) {
			lat, err := r.latency(c, o.LatencyCost, o.LatencySamples)
			if err != nil {
				return "", err
			}
			res.Latency = lat
			return fmt.Sprintf("%d hashes at cost %d in %s (%s/hash)",
				lat.Samples, lat.Cost, lat.Total.Round(time.Millisecond), lat.PerHash.Round(100*time.Microsecond)), nil
		}},
	}
}

func syncRoundTrip(c capability.Capability, cost int) (string, error) {
	digest, err := hashSync(c, KnownPlaintext, cost)
	if err != nil {
		return "", err
	}
	if err := expectCompare(PathSync, KnownPlaintext, true, compareSync(c, KnownPlaintext, digest)); err != nil {
		return "", err
	}
	if err := expectCompare(PathSync, WrongPlaintext, false, compareSync(c, WrongPlaintext, digest)); err != nil {
		return "", err
	}
	if err := expectRounds(PathSync, c, digest, cost); err != nil {
		return "", err
	}
	return fmt.Sprintf("cost %d, digest %s", cost, Fingerprint(digest)), nil
}

func asyncRoundTrip(ctx context.Context, c capability.Capability, cost int) (string, error) {
	digest, err := hashAsync(ctx, c, KnownPlaintext, cost)
	if err != nil {
		return "", err
	}
	if err := expectCompare(PathAsync, KnownPlaintext, true, compareAsync(ctx, c, KnownPlaintext, digest)); err != nil {
		return "", err
	}
	if err := expectCompare(PathAsync, WrongPlaintext, false, compareAsync(ctx, c, WrongPlaintext, digest)); err != nil {
		return "", err
	}
	// getRounds has no async form.
	if err := expectRounds(PathAsync, c, digest, cost); err != nil {
		return "", err
	}
	return fmt.Sprintf("cost %d, digest %s", cost, Fingerprint(digest)), nil
}

// interop checks that a digest from either path verifies through the other.
func interop(ctx context.Context, c capability.Capability, cost int) (string, error) {
	fromSync, err := hashSync(c, KnownPlaintext, cost)
	if err != nil {
		return "", err
	}
	if err := expectCompare(PathAsync, KnownPlaintext, true, compareAsync(ctx, c, KnownPlaintext, fromSync)); err != nil {
		return "", fmt.Errorf("sync digest: %w", err)
	}
	if err := expectCompare(PathAsync, WrongPlaintext, false, compareAsync(ctx, c, WrongPlaintext, fromSync)); err != nil {
		return "", fmt.Errorf("sync digest: %w", err)
	}

	fromAsync, err := hashAsync(ctx, c, KnownPlaintext, cost)
	if err != nil {
		return "", err
	}
	if err := expectCompare(PathSync, KnownPlaintext, true, compareSync(c, KnownPlaintext, fromAsync)); err != nil {
		return "", fmt.Errorf("async digest: %w", err)
	}
	if err := expectCompare(PathSync, WrongPlaintext, false, compareSync(c, WrongPlaintext, fromAsync)); err != nil {
		return "", fmt.Errorf("async digest: %w", err)
	}
	return fmt.Sprintf("sync %s verified async, async %s verified sync", Fingerprint(fromSync), Fingerprint(fromAsync)), nil
}

func costSensitivity(c capability.Capability, low, high int) (string, error) {
	digests := make([]string, 0, 2)
	for _, cost := range []int{low, high} {
		digest, err := hashSync(c, KnownPlaintext, cost)
		if err != nil {
			return "", err
		}
		if err := expectCompare(PathSync, KnownPlaintext, true, compareSync(c, KnownPlaintext, digest)); err != nil {
			return "", fmt.Errorf("cost %d: %w", cost, err)
		}
		if err := expectRounds(PathSync, c, digest, cost); err != nil {
			return "", err
		}
		digests = append(digests, digest)
	}
	if digests[0] == digests[1] {
		return "", fmt.Errorf("digests at cost %d and %d are identical", low, high)
	}
	return fmt.Sprintf("cost %d %s, cost %d %s", low, Fingerprint(digests[0]), high, Fingerprint(digests[1])), nil
}

func edgeCase(c capability.Capability, tc testCase) (string, error) {
	digest, err := hashSync(c, tc.plaintext, tc.cost)
	if err != nil {
		return "", err
	}
	if err := expectCompare(PathSync, tc.plaintext, tc.expected, compareSync(c, tc.plaintext, digest)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-byte plaintext round-trips, digest %s", len(tc.plaintext), Fingerprint(digest)), nil
}

// saltUniqueness checks that genSalt draws fresh salts and that hashing one plaintext twice yields distinct
// digests. Each digest is produced from its own genSalt salt. Drivers that take only the cost from the salt
// (the Go reference driver draws new salt bytes) pass without exercising the genSalt to hash link; the detail
// says so.
func saltUniqueness(c capability.Capability, cost int) (string, error) {
	s1, err := c.GenSalt(cost)
	if err != nil {
		return "", opErr(PathSync, "genSalt", err)
	}
	s2, err := c.GenSalt(cost)
	if err != nil {
		return "", opErr(PathSync, "genSalt", err)
	}
	if s1 == s2 {
		return "", fmt.Errorf("two genSalt(%d) calls returned the same salt", cost)
	}
	d1, err := c.Hash(KnownPlaintext, s1)
	if err != nil {
		return "", opErr(PathSync, "hash", err)
	}
	d2, err := c.Hash(KnownPlaintext, s2)
	if err != nil {
		return "", opErr(PathSync, "hash", err)
	}
	if d1 == d2 {
		return "", fmt.Errorf("two hashes of the same plaintext at cost %d are identical", cost)
	}
	detail := fmt.Sprintf("salts and digests differ (%s, %s)", Fingerprint(d1), Fingerprint(d2))
	if embedsSalt(s1, d1) && embedsSalt(s2, d2) {
		return detail + "; digests carry their genSalt salts", nil
	}
	return detail + "; digests do not carry the genSalt salts, salt-to-digest link not verified", nil
}

// embedsSalt reports whether digest was built from salt: a bcrypt digest is its 29-byte setting followed by
// the checksum.
func embedsSalt(salt, digest string) bool {
	return salt != "" && len(digest) > len(salt) && strings.HasPrefix(digest, salt)
}

// latency hashes n distinct plaintexts. It has no threshold; only capability errors fail it.
func (r *Runner) latency(c capability.Capability, cost, n int) (*Latency, error) {
	start := r.opts.Now()
	for i := range n {
		if _, err := hashSync(c, fmt.Sprintf("latency-sample-%d", i), cost); err != nil {
			return nil, err
		}
	}
	total := r.opts.Now().Sub(start)
	return &Latency{Samples: n, Cost: cost, Total: total, PerHash: total / time.Duration(n)}, nil
}

func hashSync(c capability.Capability, plaintext string, cost int) (string, error) {
	salt, err := c.GenSalt(cost)
	if err != nil {
		return "", opErr(PathSync, "genSalt", err)
	}
	digest, err := c.Hash(plaintext, salt)
	if err != nil {
		return "", opErr(PathSync, "hash", err)
	}
	return digest, nil
}

func hashAsync(ctx context.Context, c capability.Capability, plaintext string, cost int) (string, error) {
	salt, err := c.GenSaltAsync(ctx, cost).Await(ctx)
	if err != nil {
		return "", opErr(PathAsync, "genSalt", err)
	}
	digest, err := c.HashAsync(ctx, plaintext, salt).Await(ctx)
	if err != nil {
		return "", opErr(PathAsync, "hash", err)
	}
	return digest, nil
}

type compareOutcome struct {
	ok  bool
	err error
}

func compareSync(c capability.Capability, plaintext, digest string) compareOutcome {
	ok, err := c.Compare(plaintext, digest)
	return compareOutcome{ok: ok, err: err}
}

func compareAsync(ctx context.Context, c capability.Capability, plaintext, digest string) compareOutcome {
	ok, err := c.CompareAsync(ctx, plaintext, digest).Await(ctx)
	return compareOutcome{ok: ok, err: err}
}

func expectCompare(path Path, plaintext string, want bool, got compareOutcome) error {
	if got.err != nil {
		return opErr(path, "compare", got.err)
	}
	if got.ok != want {
		return fmt.Errorf("%s compare(%s) = %t, want %t", path, label(plaintext), got.ok, want)
	}
	return nil
}

func expectRounds(path Path, c capability.Capability, digest string, want int) error {
	got, err := c.Rounds(digest)
	if err != nil {
		return opErr(path, "getRounds", err)
	}
	if got != want {
		return fmt.Errorf("%s getRounds = %d, want %d", path, got, want)
	}
	return nil
}

func opErr(path Path, op string, err error) error {
	return fmt.Errorf("%s %s: %w", path, op, err)
}

// label renders a plaintext for failure details without flooding them.
func label(plaintext string) string {
	const limit = 20
	if len(plaintext) <= limit {
		return fmt.Sprintf("%q", plaintext)
	}
	return fmt.Sprintf("%q...(%d bytes)", plaintext[:limit], len(plaintext))
}
