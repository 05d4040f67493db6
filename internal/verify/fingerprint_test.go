package verify

import (
	"strings"
	"testing"
)

func TestFingerprint_Consistent(t *testing.T) {
	digest := "$2b$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
	fp1 := Fingerprint(digest)
	fp2 := Fingerprint(digest)

	if fp1 != fp2 {
		t.Errorf("Fingerprint not consistent: %q != %q", fp1, fp2)
	}
	if !strings.HasPrefix(fp1, "sha256:") {
		t.Errorf("Fingerprint = %q, want sha256: prefix", fp1)
	}
	if got := len(strings.TrimPrefix(fp1, "sha256:")); got != fingerprintLen {
		t.Errorf("fingerprint length = %d, want %d", got, fingerprintLen)
	}
	if strings.Contains(fp1, "N9qo8") {
		t.Error("Fingerprint must not echo the digest")
	}
}

func TestFingerprint_DifferentDigests(t *testing.T) {
	if Fingerprint("digest-1") == Fingerprint("digest-2") {
		t.Error("Fingerprint produced same value for different digests")
	}
}

func TestFingerprint_Empty(t *testing.T) {
	if got := Fingerprint(""); got != "" {
		t.Errorf("Fingerprint(\"\") = %q, want empty", got)
	}
}

func TestLabel(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"", `""`},
		{"WrongPassword", `"WrongPassword"`},
		{strings.Repeat("a", 100), `"aaaaaaaaaaaaaaaaaaaa"...(100 bytes)`},
	}
	for _, tc := range testCases {
		if got := label(tc.in); got != tc.want {
			t.Errorf("label(%d bytes) = %s, want %s", len(tc.in), got, tc.want)
		}
	}
}
