// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/spcs-instruments/pfex/lib/clock"
)

// AddressVariable carries the ingestion endpoint's address into the
// child's environment.
const AddressVariable = "PFEX_ADDRESS"

// DefaultKillGrace is how long the process group has between SIGTERM
// and SIGKILL.
const DefaultKillGrace = 5 * time.Second

// DefaultOutputDrain is how long output may keep arriving after the
// child exits. Past it, whatever still holds the pipes (a background
// descendant) is killed with the rest of the group.
const DefaultOutputDrain = 2 * time.Second

// maxLineSize bounds one line of child output; longer lines end the
// stream with bufio.ErrTooLong.
const maxLineSize = 1024 * 1024

// Command describes the child to run.
type Command struct {
	// Path is the executable, resolved through PATH when it has no
	// slash.
	Path string
	Args []string

	// Dir is the working directory; empty means the current one.
	Dir string

	// Env is appended to the parent's environment.
	Env []string

	// KillGrace defaults to DefaultKillGrace. Negative sends SIGKILL
	// straight away.
	KillGrace time.Duration

	// OutputDrain defaults to DefaultOutputDrain. Negative stops
	// reading as soon as the child exits.
	OutputDrain time.Duration

	// Classifier defaults to NewMarkerClassifier("").
	Classifier Classifier

	Clock clock.Clock
}

// Line is one line of child output.
type Line struct {
	Stream Stream
	Text   string
	Level  slog.Level
}

// LogValue lets a Line be logged as a single attribute.
func (l Line) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("stream", l.Stream.String()),
		slog.String("text", l.Text),
	)
}

// Process is a running child.
type Process struct {
	cmd   *exec.Cmd
	lines chan Line
	done  chan struct{}
	err   error

	// abandoned is set when output was cut off after the drain window.
	abandoned bool
}

// Start launches cmd. The returned Process's Lines channel must be
// drained: the readers block on it, and the child blocks on its pipes
// in turn.
func Start(ctx context.Context, command Command) (*Process, error) {
	if command.Path == "" {
		return nil, errors.New("supervisor: command path is required")
	}
	if command.KillGrace == 0 {
		command.KillGrace = DefaultKillGrace
	}
	if command.OutputDrain == 0 {
		command.OutputDrain = DefaultOutputDrain
	}
	if command.Classifier == nil {
		command.Classifier = NewMarkerClassifier("")
	}
	if command.Clock == nil {
		command.Clock = clock.Real()
	}

	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, command.KillGrace, command.Clock)
	}

	// Own pipes rather than StdoutPipe: Wait must return when the child
	// exits even if a descendant still holds the write ends.
	stdout, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, stderrWriter, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutWriter.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter
	startErr := cmd.Start()
	stdoutWriter.Close()
	stderrWriter.Close()
	if startErr != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("starting %s: %w", command.Path, startErr)
	}

	process := &Process{
		cmd:   cmd,
		lines: make(chan Line, 64),
		done:  make(chan struct{}),
	}

	var readers sync.WaitGroup
	readErrs := make([]error, 2)
	for stream, pipe := range map[Stream]*os.File{Stdout: stdout, Stderr: stderr} {
		readers.Add(1)
		go func() {
			defer readers.Done()
			readErrs[stream] = process.read(stream, pipe, command.Classifier)
		}()
	}
	readersDone := make(chan struct{})
	go func() {
		readers.Wait()
		close(readersDone)
	}()

	go func() {
		waitErr := cmd.Wait()
		if waitErr != nil {
			waitErr = fmt.Errorf("%s: %w", command.Path, waitErr)
		}

		select {
		case <-readersDone:
		default:
			select {
			case <-readersDone:
			case <-drainTimer(command.Clock, command.OutputDrain):
				process.abandoned = true
				_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
				stdout.Close()
				stderr.Close()
				<-readersDone
			}
		}
		stdout.Close()
		stderr.Close()
		close(process.lines)

		process.err = errors.Join(append([]error{waitErr}, readErrs...)...)
		close(process.done)
	}()
	return process, nil
}

func drainTimer(clk clock.Clock, drain time.Duration) <-chan time.Time {
	if drain < 0 {
		expired := make(chan time.Time, 1)
		expired <- clk.Now()
		return expired
	}
	return clk.After(drain)
}

func (p *Process) read(stream Stream, pipe io.Reader, classifier Classifier) error {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		text := scanner.Text()
		p.lines <- Line{Stream: stream, Text: text, Level: classifier.Classify(stream, text)}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return nil
		}
		// Drain so the child never blocks on a full pipe.
		io.Copy(io.Discard, pipe)
		return fmt.Errorf("reading %s: %w", stream, err)
	}
	return nil
}

// signalGroup sends SIGTERM to the process group and schedules SIGKILL
// after grace. A group that has already exited reports
// os.ErrProcessDone.
func signalGroup(pid int, grace time.Duration, clk clock.Clock) error {
	group := -pid
	if grace < 0 {
		return killResult(unix.Kill(group, unix.SIGKILL))
	}
	if err := unix.Kill(group, unix.SIGTERM); err != nil {
		return killResult(unix.Kill(group, unix.SIGKILL))
	}
	go func() {
		clk.Sleep(grace)
		_ = unix.Kill(group, unix.SIGKILL)
	}()
	return nil
}

func killResult(err error) error {
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// Lines delivers classified output in arrival order per stream. It is
// closed once both streams reach EOF, or when the drain window after
// the child's exit runs out.
func (p *Process) Lines() <-chan Line { return p.lines }

// Done is closed after the process has exited and its output has been
// read, or abandoned once the drain window passed.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns nil for a zero exit status once Done is closed. A non-zero
// status wraps *exec.ExitError.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// ExitCode returns the exit status, or -1 while running or when the
// process was killed by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// OutputAbandoned reports, once Done is closed, whether output was cut
// off because a descendant kept the pipes open past the drain window.
func (p *Process) OutputAbandoned() bool {
	select {
	case <-p.done:
		return p.abandoned
	default:
		return false
	}
}

// Pid returns the child's process ID, which is also its process group.
func (p *Process) Pid() int { return p.cmd.Process.Pid }
