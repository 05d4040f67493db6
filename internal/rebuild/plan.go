// Package rebuild plans and runs a from-source rebuild of a native Node.js addon, for hosts where the
// installed binary was compiled for another platform or runtime ABI.
package rebuild

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// Package managers.
const (
	ManagerNPM  = "npm"
	ManagerYarn = "yarn"
	ManagerPNPM = "pnpm"
)

// buildFromSourceEnv makes node-pre-gyp skip prebuilt binaries under every package manager.
const buildFromSourceEnv = "npm_config_build_from_source=true"

var (
	// ErrInvalidPackage is returned for package names that could escape node_modules.
	ErrInvalidPackage = errors.New("rebuild: invalid package name")
	// ErrUnknownManager is returned for a package manager other than npm, yarn or pnpm.
	ErrUnknownManager = errors.New("rebuild: unknown package manager")
)

// packageName accepts "name" and "@scope/name".
var packageName = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._~-]*/)?[a-z0-9][a-z0-9._~-]*$`)

// Kind is what a Step does.
type Kind string

const (
	KindPreflight Kind = "preflight"
	KindRemove    Kind = "remove"
	KindCommand   Kind = "command"
)

// Step is one rebuild action.
type Step struct {
	Kind        Kind
	Description string
	// Tools are looked up on PATH by a preflight step. Missing tools are warnings.
	Tools []string
	// Path is removed by a remove step.
	Path string
	// Command, Args and Env describe a command step. Env is appended to the inherited environment.
	Command string
	Args    []string
	Env     []string
	Dir     string
}

func (s Step) String() string {
	switch s.Kind {
	case KindPreflight:
		return fmt.Sprintf("check toolchain: %s", strings.Join(s.Tools, " "))
	case KindRemove:
		return fmt.Sprintf("remove %s", s.Path)
	default:
		cmd := strings.Join(append([]string{s.Command}, s.Args...), " ")
		if len(s.Env) > 0 {
			cmd = strings.Join(s.Env, " ") + " " + cmd
		}
		return cmd
	}
}

// Options selects what to rebuild.
type Options struct {
	// ProjectDir holds the node_modules directory. Defaults to ".".
	ProjectDir string
	// Package is the addon package. Defaults to "bcrypt".
	Package string
	// Manager is npm, yarn or pnpm. Defaults to npm.
	Manager string
	// OS is a GOOS value selecting the toolchain check. Defaults to runtime.GOOS.
	OS string
}

// toolchains lists what node-gyp needs per OS. Visual Studio discovery on windows is left to node-gyp.
var toolchains = map[string][]string{
	"linux":   {"python3", "make", "g++"},
	"darwin":  {"python3", "make", "clang++"},
	"windows": {"python"},
}

// Plan returns the ordered rebuild steps for opts. It runs nothing.
func Plan(opts Options) ([]Step, error) {
	if opts.ProjectDir == "" {
		opts.ProjectDir = "."
	}
	if opts.Package == "" {
		opts.Package = "bcrypt"
	}
	if opts.Manager == "" {
		opts.Manager = ManagerNPM
	}
	if opts.OS == "" {
		opts.OS = runtime.GOOS
	}
	if !packageName.MatchString(opts.Package) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPackage, opts.Package)
	}

	tools, ok := toolchains[opts.OS]
	if !ok {
		tools = toolchains["linux"]
	}
	pkg := opts.Package
	dir := opts.ProjectDir
	steps := []Step{
		{Kind: KindPreflight, Description: "check native build toolchain", Tools: tools},
		{Kind: KindRemove, Description: "remove installed addon and its build artifacts",
			Path: filepath.Join(dir, "node_modules", filepath.FromSlash(pkg))},
	}

	command := func(desc, name string, env []string, args ...string) Step {
		return Step{Kind: KindCommand, Description: desc, Command: name, Args: args, Env: env, Dir: dir}
	}
	fromSource := []string{buildFromSourceEnv}
	switch opts.Manager {
	case ManagerNPM:
		steps = append(steps,
			command("clear package cache", "npm", nil, "cache", "clean", "--force"),
			command("reinstall from source", "npm", fromSource, "install", pkg, "--build-from-source"),
			command("rebuild native bindings", "npm", fromSource, "rebuild", pkg, "--build-from-source"),
		)
	case ManagerYarn:
		steps = append(steps,
			command("clear package cache", "yarn", nil, "cache", "clean", pkg),
			command("reinstall from source", "yarn", fromSource, "add", pkg, "--force"),
		)
	case ManagerPNPM:
		steps = append(steps,
			command("clear package cache", "pnpm", nil, "store", "prune"),
			command("reinstall from source", "pnpm", fromSource, "add", pkg),
		)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownManager, opts.Manager)
	}
	return steps, nil
}
