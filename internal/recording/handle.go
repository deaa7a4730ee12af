package recording

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// State is the lifecycle position of a recording.
type State int

const (
	Starting State = iota
	Running
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// wavHeaderBytes is the size of a PCM WAV header with no samples.
const wavHeaderBytes = 44

// ArtifactError is returned when a stopped recording left no usable file.
type ArtifactError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recording %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("recording %s: %s", e.Path, e.Reason)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// Handle tracks one capture subprocess.
type Handle struct {
	path   string
	cmd    *exec.Cmd
	grace  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	tail    []string
	waitErr error

	done chan struct{}

	stopOnce sync.Once
	stopPath string
	stopErr  error
}

const stderrTailLines = 8

func newHandle(path string, cmd *exec.Cmd, grace time.Duration, logger *slog.Logger) *Handle {
	return &Handle{
		path:   path,
		cmd:    cmd,
		grace:  grace,
		logger: logger,
		state:  Starting,
		done:   make(chan struct{}),
	}
}

// Path is the file the subprocess writes to.
func (h *Handle) Path() string { return h.path }

// PID is the subprocess id; it is also the process group id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done is closed when the subprocess has exited, for any reason.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ExitErr returns the subprocess exit error once Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitErr
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// supervise consumes stderr, promotes Starting to Running on first output,
// then reaps the subprocess.
func (h *Handle) supervise(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	sc.Split(scanProgressLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		h.mu.Lock()
		if h.state == Starting {
			h.state = Running
		}
		h.tail = append(h.tail, line)
		if len(h.tail) > stderrTailLines {
			h.tail = h.tail[len(h.tail)-stderrTailLines:]
		}
		h.mu.Unlock()
		if strings.Contains(strings.ToLower(line), "error") {
			h.logger.Warn("ffmpeg", "line", line)
		} else {
			h.logger.Debug("ffmpeg", "line", line)
		}
	}

	err := h.cmd.Wait()
	h.mu.Lock()
	h.waitErr = err
	state := h.state
	h.mu.Unlock()
	if state == Starting || state == Running {
		h.logger.Info("recording subprocess exited on its own", "error", err)
	}
	close(h.done)
}

// scanProgressLines splits on \n or \r; ffmpeg redraws its progress line with \r.
func scanProgressLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Stop terminates the subprocess group with SIGTERM, escalating to SIGKILL
// after the grace period, then verifies the artifact. Repeated calls return
// the first result.
func (h *Handle) Stop() (string, error) {
	h.stopOnce.Do(func() {
		h.stopPath, h.stopErr = h.stop()
	})
	return h.stopPath, h.stopErr
}

func (h *Handle) stop() (string, error) {
	h.setState(Stopping)

	select {
	case <-h.done:
	default:
		h.signal(unix.SIGTERM)
		t := time.NewTimer(h.grace)
		select {
		case <-h.done:
			t.Stop()
		case <-t.C:
			h.logger.Warn("recording did not stop in time, killing", "grace", h.grace)
			h.signal(unix.SIGKILL)
			<-h.done
		}
	}

	if err := h.verify(); err != nil {
		h.setState(Failed)
		h.logger.Error("recording artifact unusable", "error", err, "stderr", h.stderrTail())
		return "", err
	}
	h.setState(Stopped)
	h.logger.Info("recording stopped")
	return h.path, nil
}

func (h *Handle) signal(sig unix.Signal) {
	if err := unix.Kill(-h.PID(), sig); err != nil && !errors.Is(err, unix.ESRCH) {
		h.logger.Warn("signal recording process group failed", "signal", sig.String(), "error", err)
	}
}

func (h *Handle) verify() error {
	info, err := os.Stat(h.path)
	if err != nil {
		return &ArtifactError{Path: h.path, Reason: "file missing", Err: err}
	}
	if info.Size() <= wavHeaderBytes {
		return &ArtifactError{Path: h.path, Reason: fmt.Sprintf("no audio captured (%d bytes)", info.Size())}
	}
	return nil
}

func (h *Handle) stderrTail() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.tail, "\n")
}
