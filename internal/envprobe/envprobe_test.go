package envprobe

import (
	"runtime"
	"testing"

	"bcryptcheck/internal/capability"
)

func TestProbe_Host(t *testing.T) {
	env := Probe(capability.RuntimeInfo{})
	if env.OS != runtime.GOOS || env.Arch != runtime.GOARCH {
		t.Errorf("Probe platform = %s, want %s/%s", env.Platform(), runtime.GOOS, runtime.GOARCH)
	}
	if env.NumCPU < 1 {
		t.Errorf("NumCPU = %d, want >= 1", env.NumCPU)
	}
	if env.Hostname == "" {
		t.Error("Hostname should never be empty")
	}
	if got := env.Mismatches(); got != nil {
		t.Errorf("Mismatches without runtime = %v, want nil", got)
	}
}

func TestMismatches(t *testing.T) {
	testCases := []struct {
		name     string
		hostOS   string
		hostArch string
		rt       capability.RuntimeInfo
		want     int
	}{
		{"linux x64 matches amd64", "linux", "amd64", capability.RuntimeInfo{Name: "node", Platform: "linux", Arch: "x64"}, 0},
		{"win32 matches windows", "windows", "386", capability.RuntimeInfo{Name: "node", Platform: "win32", Arch: "ia32"}, 0},
		{"arch differs", "darwin", "arm64", capability.RuntimeInfo{Name: "node", Platform: "darwin", Arch: "x64"}, 1},
		{"os and arch differ", "linux", "arm64", capability.RuntimeInfo{Name: "node", Platform: "darwin", Arch: "x64"}, 2},
		{"go runtime", "linux", "amd64", capability.RuntimeInfo{Name: "go", Platform: "linux", Arch: "amd64"}, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := Environment{OS: tc.hostOS, Arch: tc.hostArch, Runtime: tc.rt}
			if got := env.Mismatches(); len(got) != tc.want {
				t.Errorf("Mismatches = %v, want %d entries", got, tc.want)
			}
		})
	}
}

func TestGoArch(t *testing.T) {
	testCases := map[string]string{
		"x64":    "amd64",
		"ia32":   "386",
		"arm64":  "arm64",
		"mipsel": "mipsle",
		"weird":  "weird",
	}
	for in, want := range testCases {
		if got := GoArch(in); got != want {
			t.Errorf("GoArch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGoOS(t *testing.T) {
	if got := GoOS("win32"); got != "windows" {
		t.Errorf("GoOS(win32) = %q, want windows", got)
	}
	if got := GoOS("linux"); got != "linux" {
		t.Errorf("GoOS(linux) = %q, want linux", got)
	}
}

func TestSummary(t *testing.T) {
	env := Environment{GoVersion: "go1.25.5", OS: "linux", Arch: "amd64", NumCPU: 4,
		Runtime: capability.RuntimeInfo{Name: "node", Version: "v20.11.1", Platform: "linux", Arch: "x64", Module: "bcrypt@5.1.1"}}
	want := "host linux/amd64 (go1.25.5, 4 cpu); node v20.11.1 linux/x64 with bcrypt@5.1.1"
	if got := env.Summary(); got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}
