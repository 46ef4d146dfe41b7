// Package process owns the OS-level lifecycle of one supervised child:
// spawn, output capture, signaling, and exit classification. It holds no
// restart policy; exits are reported to the caller, which decides.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/scriptr/internal/logring"
	"github.com/loykin/scriptr/internal/metrics"
	"github.com/loykin/scriptr/internal/script"
)

// ErrSpawn marks a failure to start the child (missing executable,
// permission denied). The unit settles to error; retrying is up to the
// operator.
var ErrSpawn = errors.New("spawn failed")

// maxLineBytes bounds a single captured output line.
const maxLineBytes = 1 << 20

// Controller runs one child process per Start/Wait cycle. The owning unit
// serializes Start, Wait, Terminate and Kill; PID and StartedAt are safe
// for concurrent readers.
type Controller struct {
	mu        sync.Mutex
	def       script.Definition
	buf       *logring.Buffer
	fileOut   io.WriteCloser
	fileErr   io.WriteCloser
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	readers   sync.WaitGroup
}

func NewController(def script.Definition, buf *logring.Buffer) *Controller {
	return &Controller{def: def.Clone(), buf: buf}
}

// SetFileWriters attaches optional rotating file writers that receive a
// copy of every captured line. Closed after each run's output drains.
func (c *Controller) SetFileWriters(stdout, stderr io.WriteCloser) {
	c.mu.Lock()
	c.fileOut = stdout
	c.fileErr = stderr
	c.mu.Unlock()
}

// Start spawns the child in its own process group and begins relaying its
// stdout and stderr into the log buffer. Errors unwrap to ErrSpawn.
func (c *Controller) Start() error {
	c.mu.Lock()
	def := c.def
	c.mu.Unlock()

	// #nosec G204 -- the path and args come from the operator's catalog
	cmd := exec.Command(def.Path, def.Args...)
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.startedAt = time.Now()
	fileOut, fileErr := c.fileOut, c.fileErr
	c.mu.Unlock()

	c.readers.Add(2)
	go c.relay(stdout, logring.Stdout, fileOut)
	go c.relay(stderr, logring.Stderr, fileErr)
	return nil
}

// relay drains one pipe line by line into the log buffer and the optional
// file writer. Runs until the pipe closes on child exit.
func (c *Controller) relay(r io.Reader, stream logring.Stream, file io.Writer) {
	defer c.readers.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		text := sc.Text()
		c.buf.Append(stream, text)
		metrics.IncLogLine(c.def.Name, string(stream))
		if file != nil {
			_, _ = file.Write(append([]byte(text), '\n'))
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		c.buf.Append(logring.System, fmt.Sprintf("%s capture stopped: %v", stream, err))
	}
}

// Wait blocks until the child exits, joins both output readers so no line
// is lost, closes the file writers, and classifies the exit. Call exactly
// once per successful Start.
func (c *Controller) Wait() Exit {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil {
		return Exit{Class: ExitFailure, Code: -1, At: time.Now(), Err: errors.New("not started")}
	}
	// Readers finish when the child closes its ends of the pipes. Join
	// them first: cmd.Wait closes the parent ends.
	c.readers.Wait()
	err := cmd.Wait()
	c.closeFiles()
	return classify(err)
}

func (c *Controller) closeFiles() {
	c.mu.Lock()
	out, errW := c.fileOut, c.fileErr
	c.fileOut, c.fileErr = nil, nil
	c.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

// Terminate asks the child's process group to exit gracefully.
func (c *Controller) Terminate() {
	if pid := c.PID(); pid > 0 {
		terminateGroup(pid)
	}
}

// Kill forcibly ends the child's process group.
func (c *Controller) Kill() {
	if pid := c.PID(); pid > 0 {
		killGroup(pid)
	}
}

// PID returns the child's process id for the current run, 0 before the
// first Start.
func (c *Controller) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// StartedAt returns when the current run's child was spawned.
func (c *Controller) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// Definition returns the immutable script definition this controller runs.
func (c *Controller) Definition() script.Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def.Clone()
}
