// Package nodebcrypt drives the native bcrypt addon of a Node.js project through a long-lived node child
// process. The child runs an embedded helper script that require()s the addon from the project directory and
// answers line-delimited JSON requests on stdin/stdout.
//
// Blocking calls reach the addon's *Sync functions, non-blocking calls its promise API, so both native code
// paths are exercised. Requests are serialised: one is in flight at a time.
package nodebcrypt

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bcryptcheck/internal/capability"
)

// Name is the driver name reported by Capability.Name.
const Name = "node"

//go:embed helper.js
var helperScript string

const (
	defaultStartTimeout = 30 * time.Second
	closeGrace          = 2 * time.Second
	stderrTailBytes     = 4096
	moduleEnvVar        = "BCRYPTCHECK_MODULE"
)

// Options configures the node driver.
type Options struct {
	// NodeBinary is the node executable (default "node").
	NodeBinary string
	// Module is the package to require (default "bcrypt"); bcryptjs exposes the same API.
	Module string
	// ProjectDir is the working directory of the child; the module is resolved from its node_modules.
	ProjectDir string
	// StartTimeout bounds how long to wait for the helper's ready line (default 30s).
	StartTimeout time.Duration
	// Logger receives helper lifecycle logs. Nil means no logging.
	Logger *zap.Logger

	// argsPrefix is inserted before "-e <script>"; tests use it to re-exec the test binary as a fake node.
	argsPrefix []string
}

type request struct {
	ID    int64  `json:"id"`
	Op    string `json:"op"`
	Async bool   `json:"async"`
	Args  []any  `json:"args"`
}

type response struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type readyLine struct {
	Ready   bool                   `json:"ready"`
	Error   string                 `json:"error"`
	Runtime capability.RuntimeInfo `json:"runtime"`
}

// Capability implements capability.Capability over a node child process.
type Capability struct {
	opts    Options
	logger  *zap.Logger
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	stderr  *tailBuffer
	runtime capability.RuntimeInfo
	exited  chan struct{}
	closed  atomic.Bool

	// mu is held for a whole request, including the blocking read of its response.
	mu     sync.Mutex
	nextID int64
	dead   error
}

// Loader returns a capability.Loader that starts the helper with opts.
func Loader(opts Options) capability.Loader {
	return func(ctx context.Context) (capability.Capability, error) {
		return Start(ctx, opts)
	}
}

// Start launches the helper and waits for it to load the module. Any failure, including the addon failing
// to load on this platform, is returned wrapped in capability.ErrUnavailable with the loader's message so
// capability.Diagnose can classify it.
func Start(ctx context.Context, opts Options) (*Capability, error) {
	if opts.NodeBinary == "" {
		opts.NodeBinary = "node"
	}
	if opts.Module == "" {
		opts.Module = "bcrypt"
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	args := append(append([]string{}, opts.argsPrefix...), "-e", helperScript)
	cmd := exec.Command(opts.NodeBinary, args...)
	cmd.Dir = opts.ProjectDir
	cmd.Env = append(os.Environ(), moduleEnvVar+"="+opts.Module)
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", capability.ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", capability.ErrUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", capability.ErrUnavailable, opts.NodeBinary, err)
	}

	c := &Capability{
		opts:   opts,
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: stderr,
		exited: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(c.exited)
	}()

	ready, err := c.awaitReady(ctx)
	if err != nil {
		c.kill()
		return nil, err
	}
	if !ready.Ready {
		c.kill()
		return nil, fmt.Errorf("%w: load %s: %s", capability.ErrUnavailable, opts.Module, firstLines(ready.Error, 3))
	}
	c.runtime = ready.Runtime
	logger.Debug("nodebcrypt: helper ready",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("module", ready.Runtime.Module),
		zap.String("node", ready.Runtime.Version),
		zap.String("platform", ready.Runtime.Platform+"/"+ready.Runtime.Arch),
	)
	return c, nil
}

func (c *Capability) awaitReady(ctx context.Context) (readyLine, error) {
	type lineResult struct {
		line []byte
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := c.stdout.ReadBytes('\n')
		ch <- lineResult{line: line, err: err}
	}()

	timer := time.NewTimer(c.opts.StartTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			<-c.exitedOrTimeout(closeGrace)
			return readyLine{}, fmt.Errorf("%w: helper exited before ready: %s", capability.ErrUnavailable, c.stderrSummary(r.err))
		}
		var ready readyLine
		if err := json.Unmarshal(r.line, &ready); err != nil {
			return readyLine{}, fmt.Errorf("%w: unexpected helper output %q", capability.ErrUnavailable, strings.TrimSpace(string(r.line)))
		}
		return ready, nil
	case <-timer.C:
		return readyLine{}, fmt.Errorf("%w: helper not ready after %s", capability.ErrUnavailable, c.opts.StartTimeout)
	case <-ctx.Done():
		return readyLine{}, fmt.Errorf("%w: %w", capability.ErrUnavailable, ctx.Err())
	}
}

// Name returns "node".
func (c *Capability) Name() string { return Name }

// Runtime reports the node process that loaded the addon.
func (c *Capability) Runtime() capability.RuntimeInfo { return c.runtime }

// GenSalt calls genSaltSync.
func (c *Capability) GenSalt(cost int) (string, error) {
	if !capability.ValidCost(cost) {
		return "", fmt.Errorf("%w: %d", capability.ErrInvalidCost, cost)
	}
	return decode[string](c.call("genSalt", false, cost))
}

// Hash calls hashSync.
func (c *Capability) Hash(plaintext, salt string) (string, error) {
	return decode[string](c.call("hash", false, plaintext, salt))
}

// Compare calls compareSync.
func (c *Capability) Compare(plaintext, digest string) (bool, error) {
	return decode[bool](c.call("compare", false, plaintext, digest))
}

// Rounds calls getRounds.
func (c *Capability) Rounds(digest string) (int, error) {
	return decode[int](c.call("getRounds", false, digest))
}

// GenSaltAsync calls the promise form of genSalt.
func (c *Capability) GenSaltAsync(_ context.Context, cost int) capability.Future[string] {
	if !capability.ValidCost(cost) {
		return capability.Resolved("", fmt.Errorf("%w: %d", capability.ErrInvalidCost, cost))
	}
	return capability.Go(func() (string, error) {
		return decode[string](c.call("genSalt", true, cost))
	})
}

// HashAsync calls the promise form of hash.
func (c *Capability) HashAsync(_ context.Context, plaintext, salt string) capability.Future[string] {
	return capability.Go(func() (string, error) {
		return decode[string](c.call("hash", true, plaintext, salt))
	})
}

// CompareAsync calls the promise form of compare.
func (c *Capability) CompareAsync(_ context.Context, plaintext, digest string) capability.Future[bool] {
	return capability.Go(func() (bool, error) {
		return decode[bool](c.call("compare", true, plaintext, digest))
	})
}

// Close ends the helper: stdin is closed so it exits on its own, and it is killed after a short grace period.
// Close does not wait for an in-flight request; killing the helper makes that request fail.
func (c *Capability) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.stdin.Close()

	select {
	case <-c.exited:
	case <-time.After(closeGrace):
		c.logger.Warn("nodebcrypt: helper did not exit after stdin closed, killing", zap.Int("pid", c.cmd.Process.Pid))
		c.kill()
	}
	return nil
}

var errClosed = errors.New("nodebcrypt: helper closed")

func (c *Capability) call(op string, async bool, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: %w", capability.ErrUnavailable, errClosed)
	}
	if c.dead != nil {
		return nil, c.dead
	}

	c.nextID++
	req := request{ID: c.nextID, Op: op, Async: async, Args: args}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("nodebcrypt: encode %s: %w", op, err)
	}
	if _, err := c.stdin.Write(append(payload, '\n')); err != nil {
		c.dead = fmt.Errorf("%w: write to helper: %s", capability.ErrUnavailable, c.stderrSummary(err))
		return nil, c.dead
	}
	line, err := c.stdout.ReadBytes('\n')
	if err != nil && c.closed.Load() {
		c.dead = fmt.Errorf("%w: %w", capability.ErrUnavailable, errClosed)
		return nil, c.dead
	}
	if err != nil {
		c.dead = fmt.Errorf("%w: helper stopped responding: %s", capability.ErrUnavailable, c.stderrSummary(err))
		return nil, c.dead
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.dead = fmt.Errorf("%w: malformed helper response %q", capability.ErrUnavailable, strings.TrimSpace(string(line)))
		return nil, c.dead
	}
	if resp.ID != req.ID {
		c.dead = fmt.Errorf("%w: helper answered request %d, want %d", capability.ErrUnavailable, resp.ID, req.ID)
		return nil, c.dead
	}
	if !resp.OK {
		path := "sync"
		if async {
			path = "async"
		}
		return nil, fmt.Errorf("nodebcrypt: %s %s: %s", path, op, resp.Error)
	}
	return resp.Result, nil
}

func decode[T any](raw json.RawMessage, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("nodebcrypt: decode result %s: %w", string(raw), err)
	}
	return v, nil
}

func (c *Capability) kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	<-c.exitedOrTimeout(closeGrace)
}

func (c *Capability) exitedOrTimeout(d time.Duration) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-c.exited:
		case <-time.After(d):
		}
	}()
	return out
}

func (c *Capability) stderrSummary(err error) string {
	if tail := strings.TrimSpace(c.stderr.String()); tail != "" {
		return firstLines(tail, 3)
	}
	return err.Error()
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, " | ")
}

// tailBuffer keeps the last limit bytes written to it. Safe for concurrent use.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
