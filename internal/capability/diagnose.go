package capability

import (
	"errors"
	"os/exec"
	"strings"
)

// DiagnosisKind classifies why a capability could not be loaded.
type DiagnosisKind string

const (
	KindArchMismatch   DiagnosisKind = "arch_mismatch"
	KindABIMismatch    DiagnosisKind = "abi_mismatch"
	KindModuleMissing  DiagnosisKind = "module_missing"
	KindRuntimeMissing DiagnosisKind = "runtime_missing"
	KindUnknown        DiagnosisKind = "unknown"
)

// Diagnosis explains a load failure to an operator.
type Diagnosis struct {
	Kind    DiagnosisKind `json:"kind" yaml:"kind"`
	Summary string        `json:"summary" yaml:"summary"`
	Remedy  string        `json:"remedy,omitempty" yaml:"remedy,omitempty"`
}

// Rebuildable reports whether rebuilding the native component from source is the usual fix.
func (d Diagnosis) Rebuildable() bool {
	switch d.Kind {
	case KindArchMismatch, KindABIMismatch, KindModuleMissing:
		return true
	}
	return false
}

const rebuildRemedy = "run `bcryptcheck rebuild` on this host to compile the addon from source"

var (
	archMarkers = []string{
		"invalid elf header",
		"wrong elf class",
		"mach-o, but wrong architecture",
		"mach-o file, but is an incompatible architecture",
		"incompatible architecture",
		"not a valid win32 application",
		"exec format error",
	}
	abiMarkers = []string{
		"node_module_version",
		"compiled against a different node.js version",
	}
	missingMarkers = []string{
		"cannot find module",
		"module_not_found",
	}
)

// Diagnose classifies a capability load error by the loader messages that typically accompany it.
func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return Diagnosis{
			Kind:    KindRuntimeMissing,
			Summary: "the runtime executable was not found on PATH",
			Remedy:  "install the runtime or set NODE_BINARY",
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, archMarkers):
		return Diagnosis{
			Kind:    KindArchMismatch,
			Summary: "the native component was compiled for a different operating system or CPU architecture",
			Remedy:  rebuildRemedy,
		}
	case containsAny(msg, abiMarkers):
		return Diagnosis{
			Kind:    KindABIMismatch,
			Summary: "the native component was compiled against a different runtime ABI version",
			Remedy:  rebuildRemedy,
		}
	case containsAny(msg, missingMarkers):
		return Diagnosis{
			Kind:    KindModuleMissing,
			Summary: "the hashing module is not installed in the project",
			Remedy:  rebuildRemedy,
		}
	}
	return Diagnosis{Kind: KindUnknown, Summary: err.Error()}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
