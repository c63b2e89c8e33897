package lsp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	readBufferSize = 64 * 1024
	// waitDelay bounds how long Wait blocks on the stderr copier after the
	// process exits; grandchildren may hold the pipe open.
	waitDelay = 2 * time.Second
)

// TransportEvents are invoked on the transport's reader goroutine.
type TransportEvents struct {
	// OnFrame receives each complete message body.
	OnFrame func(body []byte)
	// OnExit is invoked exactly once when the process is gone. cause wraps
	// ErrFraming if the stream was corrupt, ErrProcessExited otherwise.
	OnExit func(cause error)
}

// ProcessTransport owns a language server child process and its pipes.
type ProcessTransport struct {
	command []string
	dir     string
	log     *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu     sync.Mutex
	stdinClosed bool

	stopOnce sync.Once
	exited   atomic.Bool
	done     chan struct{} // closed after OnExit returns
}

// NewProcessTransport prepares a transport for command run in dir. Nothing
// is spawned until Start.
func NewProcessTransport(command []string, dir string, log *slog.Logger) *ProcessTransport {
	if log == nil {
		log = slog.Default()
	}
	return &ProcessTransport{
		command: command,
		dir:     dir,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Start spawns the process with all three pipes redirected and launches the
// reader goroutine. On failure nothing is left running and the error wraps
// ErrSpawnFailed.
func (t *ProcessTransport) Start(events TransportEvents) error {
	if len(t.command) == 0 {
		return fmt.Errorf("%w: empty command", ErrSpawnFailed)
	}

	cmd := exec.Command(t.command[0], t.command[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = t.dir
	cmd.Stderr = &stderrLogger{log: t.log}
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %w", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %w", ErrSpawnFailed, t.command[0], err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout

	go t.readLoop(events)
	return nil
}

// PID returns the process id, or 0 before Start.
func (t *ProcessTransport) PID() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Done is closed once the process has exited and OnExit has returned.
func (t *ProcessTransport) Done() <-chan struct{} {
	return t.done
}

// Write frames body and writes it to the server's stdin as one write.
// Safe for concurrent use; frames never interleave.
func (t *ProcessTransport) Write(body []byte) error {
	frame := Encode(body)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.stdinClosed || t.exited.Load() {
		return ErrStopped
	}
	if _, err := t.stdin.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Kill terminates the process immediately.
func (t *ProcessTransport) Kill() {
	if t.cmd == nil || t.cmd.Process == nil {
		return
	}
	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		t.log.Warn("lsp kill failed", "pid", t.PID(), "error", err)
	}
}

// Stop closes stdin, waits up to grace for the process to exit, then kills
// it. It is idempotent and may be called from OnExit or OnFrame; called
// from the reader goroutine it returns after the bounded waits instead of
// observing the exit.
func (t *ProcessTransport) Stop(grace time.Duration) {
	if t.cmd == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.writeMu.Lock()
		t.stdinClosed = true
		_ = t.stdin.Close()
		t.writeMu.Unlock()
	})

	if t.exited.Load() || t.wait(grace) {
		return
	}
	t.log.Warn("lsp server did not exit gracefully, killing", "pid", t.PID())
	t.Kill()
	if t.wait(grace) {
		return
	}
	// Unblock the reader if an inherited descriptor keeps stdout open.
	_ = t.stdout.Close()
}

func (t *ProcessTransport) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}

// readLoop feeds stdout into a Decoder until EOF or a framing error, then
// reaps the process and reports the exit once.
func (t *ProcessTransport) readLoop(events TransportEvents) {
	defer close(t.done)

	dec := NewDecoder()
	buf := make([]byte, readBufferSize)
	var framingErr error

read:
	for {
		n, err := t.stdout.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				body, ok, ferr := dec.Next()
				if ferr != nil {
					framingErr = ferr
					t.log.Error("lsp framing error, killing server", "pid", t.PID(), "error", ferr)
					t.Kill()
					break read
				}
				if !ok {
					break
				}
				events.OnFrame(body)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				t.log.Debug("lsp stdout read ended", "pid", t.PID(), "error", err)
			}
			break
		}
	}

	waitErr := t.cmd.Wait()
	t.exited.Store(true)

	cause := framingErr
	if cause == nil {
		if waitErr != nil {
			cause = fmt.Errorf("%w: %w", ErrProcessExited, waitErr)
		} else {
			cause = ErrProcessExited
		}
	}
	t.log.Debug("lsp server process exited", "pid", t.PID(), "cause", cause)
	events.OnExit(cause)
}

// stderrLogger forwards the server's stderr to the log one line at a time.
type stderrLogger struct {
	log     *slog.Logger
	partial []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.partial[:i], "\r")
		if len(line) > 0 {
			w.log.Debug("lsp server stderr", "line", string(line))
		}
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) > readBufferSize {
		w.log.Debug("lsp server stderr", "line", string(w.partial))
		w.partial = w.partial[:0]
	}
	return len(p), nil
}
