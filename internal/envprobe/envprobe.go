// Package envprobe inspects the host a verification runs on and compares it with the runtime that backs the
// hashing capability. It only reads; nothing is changed.
package envprobe

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"bcryptcheck/internal/capability"
)

// Environment is a snapshot of the host and of the capability's backing runtime.
type Environment struct {
	GoVersion string                 `json:"go_version" yaml:"go_version"`
	OS        string                 `json:"os" yaml:"os"`
	Arch      string                 `json:"arch" yaml:"arch"`
	NumCPU    int                    `json:"num_cpu" yaml:"num_cpu"`
	Hostname  string                 `json:"hostname" yaml:"hostname"`
	Runtime   capability.RuntimeInfo `json:"runtime" yaml:"runtime"`
}

// Probe captures the current host. rt is the capability's runtime and may be zero when no capability loaded.
func Probe(rt capability.RuntimeInfo) Environment {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Environment{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		Hostname:  host,
		Runtime:   rt,
	}
}

// Platform returns "os/arch" of the host.
func (e Environment) Platform() string {
	return e.OS + "/" + e.Arch
}

// Mismatches lists disagreements between the host and the runtime. A native component built by or for that
// runtime targets the runtime's platform, so a mismatch usually explains a load failure.
func (e Environment) Mismatches() []string {
	if e.Runtime.Platform == "" && e.Runtime.Arch == "" {
		return nil
	}
	var out []string
	if rtOS := GoOS(e.Runtime.Platform); rtOS != "" && rtOS != e.OS {
		out = append(out, fmt.Sprintf("os: host %s, %s runtime %s", e.OS, e.Runtime.Name, e.Runtime.Platform))
	}
	if rtArch := GoArch(e.Runtime.Arch); rtArch != "" && rtArch != e.Arch {
		out = append(out, fmt.Sprintf("arch: host %s, %s runtime %s", e.Arch, e.Runtime.Name, e.Runtime.Arch))
	}
	return out
}

// Summary is a one-line description for reports.
func (e Environment) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host %s (%s, %d cpu)", e.Platform(), e.GoVersion, e.NumCPU)
	if e.Runtime.Name != "" {
		fmt.Fprintf(&b, "; %s %s %s/%s", e.Runtime.Name, e.Runtime.Version, e.Runtime.Platform, e.Runtime.Arch)
		if e.Runtime.Module != "" {
			fmt.Fprintf(&b, " with %s", e.Runtime.Module)
		}
	}
	return b.String()
}

// GoOS maps a Node.js process.platform value to its GOOS name. Unknown values are returned unchanged.
func GoOS(platform string) string {
	switch platform {
	case "win32":
		return "windows"
	case "sunos":
		return "solaris"
	default:
		return platform
	}
}

// GoArch maps a Node.js process.arch value to its GOARCH name. Unknown values are returned unchanged.
func GoArch(arch string) string {
	switch arch {
	case "x64":
		return "amd64"
	case "ia32", "x32":
		return "386"
	case "mipsel":
		return "mipsle"
	default:
		return arch
	}
}
