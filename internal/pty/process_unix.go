//go:build !windows

package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/0MATRIX0/agent-connect/internal/model"
)

// drainTimeout bounds how long exit waits for buffered output after the
// child is reaped. A grandchild that keeps the tty open would otherwise hold
// the read loop forever.
const drainTimeout = 2 * time.Second

// Process is a running child attached to a pty.
//
// Write, Resize and Kill become no-ops once the process has exited.
type Process struct {
	cmd *exec.Cmd
	tty *os.File
	pid int
	cb  Callbacks

	writeMu sync.Mutex

	mu     sync.RWMutex
	exited bool
	status model.ExitStatus

	readDone chan struct{}
	done     chan struct{}
}

// Spawn starts opts.Command on a new pty. The child leads its own session and
// process group. Failures to start are returned as *model.SpawnError.
func Spawn(opts StartOptions, cb Callbacks) (*Process, error) {
	spawnErr := func(err error) error {
		return &model.SpawnError{Command: opts.Command, Dir: opts.Dir, Err: err}
	}

	if opts.Command == "" {
		return nil, spawnErr(errors.New("command is required"))
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, spawnErr(fmt.Errorf("working directory: %w", err))
	}
	if !info.IsDir() {
		return nil, spawnErr(fmt.Errorf("working directory: %s is not a directory", opts.Dir))
	}

	if opts.Cols <= 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows <= 0 {
		opts.Rows = DefaultRows
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "TERM="+Term)

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(opts.Cols),
		Rows: uint16(opts.Rows),
	})
	if err != nil {
		return nil, spawnErr(err)
	}

	p := &Process{
		cmd:      cmd,
		tty:      tty,
		pid:      cmd.Process.Pid,
		cb:       cb,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go p.readLoop()
	go p.waitLoop()

	return p, nil
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.pid
}

// Exited reports whether the exit event has fired.
func (p *Process) Exited() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exited
}

// Status returns the exit status once the process has exited.
func (p *Process) Status() (model.ExitStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, p.exited
}

// Done returns a channel that is closed after the exit event has fired.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Write sends data to the child's stdin. The bytes of one call are never
// interleaved with another call's.
func (p *Process) Write(data []byte) error {
	if len(data) == 0 || p.Exited() {
		return nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.tty.Write(data); err != nil {
		if p.Exited() || errors.Is(err, os.ErrClosed) {
			return nil
		}
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// Resize changes the pty window size. Non-positive sizes are ignored.
func (p *Process) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > 0xffff || rows > 0xffff || p.Exited() {
		return nil
	}

	err := pty.Setsize(p.tty, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		if p.Exited() || errors.Is(err, os.ErrClosed) {
			return nil
		}
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Kill sends sig to the child's process group, falling back to the child
// itself. It does not wait for the process to exit.
func (p *Process) Kill(sig syscall.Signal) error {
	if p.Exited() {
		return nil
	}

	if pgid, err := unix.Getpgid(p.pid); err == nil && pgid > 0 {
		if err := unix.Kill(-pgid, sig); err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}

	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal %s: %w", unix.SignalName(sig), err)
	}
	return nil
}

// readLoop forwards pty output until the master returns an error, which on
// Linux is EIO once the last slave descriptor closes.
func (p *Process) readLoop() {
	defer close(p.readDone)

	buf := make([]byte, DefaultReadBufferSize)
	var carry []byte

	for {
		n, err := p.tty.Read(buf)
		if n > 0 {
			data := make([]byte, 0, len(carry)+n)
			data = append(data, carry...)
			data = append(data, buf[:n]...)

			var complete []byte
			complete, carry = splitIncompleteUTF8(data)
			if len(complete) > 0 && p.cb.OnOutput != nil {
				p.cb.OnOutput(complete)
			}
		}
		if err != nil {
			break
		}
	}

	if len(carry) > 0 && p.cb.OnOutput != nil {
		p.cb.OnOutput(carry)
	}
}

// waitLoop reaps the child, drains remaining output and fires OnExit.
func (p *Process) waitLoop() {
	_ = p.cmd.Wait()
	status := exitStatus(p.cmd.ProcessState)

	select {
	case <-p.readDone:
	case <-time.After(drainTimeout):
		_ = p.tty.Close()
		<-p.readDone
	}

	p.mu.Lock()
	p.exited = true
	p.status = status
	p.mu.Unlock()

	_ = p.tty.Close()

	if p.cb.OnExit != nil {
		p.cb.OnExit(status)
	}
	close(p.done)
}

func exitStatus(state *os.ProcessState) model.ExitStatus {
	if state == nil {
		return model.ExitStatus{}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		name := unix.SignalName(ws.Signal())
		if name == "" {
			name = ws.Signal().String()
		}
		return model.ExitStatus{Signal: &name}
	}
	code := state.ExitCode()
	return model.ExitStatus{Code: &code}
}
