package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-shellwords"
)

// stderrTailLines is how much scrcpy stderr is kept for error reports
const stderrTailLines = 10

// MirrorOptions configures one scrcpy launch. Callbacks run on launcher
// goroutines.
type MirrorOptions struct {
	Title     string
	Args      string // extra scrcpy arguments, shell-quoted
	OnStdout  func(line string)
	OnStderr  func(line string)
	OnSuccess func()
	OnError   func(msg string, exitCode int)
}

// MirrorLauncher starts a mirroring subprocess for a device
type MirrorLauncher interface {
	Launch(ctx context.Context, deviceID string, opts MirrorOptions) (MirrorHandle, error)
}

// ScrcpyLauncher runs the scrcpy binary
type ScrcpyLauncher struct {
	ScrcpyPath string
	ADBPath    string // passed to scrcpy through the ADB environment variable
}

func NewScrcpyLauncher(scrcpyPath, adbPath string) *ScrcpyLauncher {
	if scrcpyPath == "" {
		scrcpyPath = "scrcpy"
	}
	return &ScrcpyLauncher{
		ScrcpyPath: scrcpyPath,
		ADBPath:    adbPath,
	}
}

// Launch starts scrcpy for deviceID and returns once the process runs.
// The process outlives ctx; stop it through the returned handle.
func (l *ScrcpyLauncher) Launch(ctx context.Context, deviceID string, opts MirrorOptions) (MirrorHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	extra, err := shellwords.Parse(opts.Args)
	if err != nil {
		return nil, fmt.Errorf("invalid scrcpy arguments %q: %w", opts.Args, err)
	}

	args := []string{"--serial", deviceID}
	if opts.Title != "" {
		args = append(args, "--window-title", opts.Title)
	}
	args = append(args, extra...)

	cmd := exec.Command(l.ScrcpyPath, args...)
	if l.ADBPath != "" {
		cmd.Env = append(os.Environ(), "ADB="+l.ADBPath)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	log.Printf("🚀 [%s] Starting scrcpy: %s %s", deviceID, l.ScrcpyPath, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scrcpy: %w", err)
	}
	log.Printf("✅ [%s] scrcpy process started (PID: %d)", deviceID, cmd.Process.Pid)

	p := &scrcpyProcess{
		deviceID: deviceID,
		cmd:      cmd,
		done:     make(chan struct{}),
	}
	go p.wait(stdout, stderr, opts)
	return p, nil
}

// scrcpyProcess is the handle of one running scrcpy
type scrcpyProcess struct {
	deviceID string
	cmd      *exec.Cmd
	done     chan struct{}
	stopped  atomic.Bool

	mu   sync.Mutex
	tail []string
}

// Stop kills scrcpy. Stopping an exited process is a no-op.
func (p *scrcpyProcess) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.stopped.Store(true)
	log.Printf("🛑 [%s] Killing scrcpy process...", p.deviceID)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill scrcpy: %w", err)
	}
	return nil
}

func (p *scrcpyProcess) wait(stdout, stderr io.Reader, opts MirrorOptions) {
	defer close(p.done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, opts.OnStdout)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			p.mu.Lock()
			p.tail = append(p.tail, line)
			if len(p.tail) > stderrTailLines {
				p.tail = p.tail[1:]
			}
			p.mu.Unlock()
			if opts.OnStderr != nil {
				opts.OnStderr(line)
			}
		})
	}()
	// pipes must be drained before Wait closes them
	wg.Wait()
	err := p.cmd.Wait()

	if err == nil || p.stopped.Load() {
		log.Printf("🛑 [%s] scrcpy exited", p.deviceID)
		if opts.OnSuccess != nil {
			opts.OnSuccess()
		}
		return
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	p.mu.Lock()
	msg := strings.Join(p.tail, "\n")
	p.mu.Unlock()
	if msg == "" {
		msg = err.Error()
	}
	log.Printf("❌ [%s] scrcpy failed (exit code %d): %s", p.deviceID, exitCode, msg)
	if opts.OnError != nil {
		opts.OnError(msg, exitCode)
	}
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
	// keep draining so scrcpy never blocks on a full pipe
	io.Copy(io.Discard, r)
}
