package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/procgroup"
	"github.com/mattn/go-shellwords"
)

// defaultStartupWindow bounds how long Start waits for the first block. A
// process that exits inside the window never opened the device.
const defaultStartupWindow = 500 * time.Millisecond

// ExecCapture reads raw S16LE PCM from the stdout of a capture command such
// as arecord, sox or ffmpeg. Lines on stderr are reported as driver status.
// The process exiting on its own is treated as losing the device, unless it
// exits before delivering any audio, which means the device never opened.
type ExecCapture struct {
	args          []string
	format        Format
	startupWindow time.Duration

	mu       sync.Mutex
	cmd      *exec.Cmd
	stopping atomic.Bool
	opened   atomic.Bool // audio arrived or the startup window passed
	firstPCM chan struct{}
	done     chan struct{}
	err      error
	status   chan string
	lastErr  atomic.Value // last stderr line
}

// NewExecCapture parses command and expands the {rate} and {channels}
// placeholders. When device is non-empty, deviceFlag and device are appended.
func NewExecCapture(command, deviceFlag, device string, format Format) (*ExecCapture, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	replacer := strings.NewReplacer(
		"{rate}", strconv.Itoa(format.SampleRate),
		"{channels}", strconv.Itoa(format.Channels),
	)
	for i, a := range args {
		args[i] = replacer.Replace(a)
	}
	if device != "" {
		if deviceFlag != "" {
			args = append(args, deviceFlag)
		}
		args = append(args, device)
	}
	return &ExecCapture{
		args:          args,
		format:        format,
		startupWindow: defaultStartupWindow,
		firstPCM:      make(chan struct{}),
		done:          make(chan struct{}),
		status:        make(chan string, statusBuffer),
	}, nil
}

// Args returns the resolved command line.
func (c *ExecCapture) Args() []string {
	return append([]string(nil), c.args...)
}

// Start launches the capture process in its own process group and waits
// until it delivers its first block, exits, or the startup window passes.
func (c *ExecCapture) Start(ctx context.Context, sink Sink) error {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()
		return fmt.Errorf("capture already started")
	}

	cmd := exec.Command(c.args[0], c.args[1:]...)
	procgroup.Detach(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: stdout pipe: %v", ErrDeviceOpen, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: stderr pipe: %v", ErrDeviceOpen, err)
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	c.cmd = cmd
	c.mu.Unlock()

	var stderrDone sync.WaitGroup
	stderrDone.Add(1)
	go func() {
		defer stderrDone.Done()
		c.scanStatus(stderr)
	}()

	go func() {
		readErr := c.readLoop(stdout, sink)
		stderrDone.Wait()
		waitErr := cmd.Wait()
		c.finish(readErr, waitErr)
	}()

	timer := time.NewTimer(c.startupWindow)
	defer timer.Stop()
	select {
	case <-c.firstPCM:
	case <-c.done:
		if !c.opened.Load() {
			return c.err
		}
	case <-timer.C:
		c.opened.Store(true)
	case <-ctx.Done():
		c.opened.Store(true)
	}
	return nil
}

func (c *ExecCapture) readLoop(stdout io.Reader, sink Sink) error {
	blockBytes := c.format.BlockBytes()
	var seq uint64
	for {
		buf := make([]byte, blockBytes)
		n, err := io.ReadFull(stdout, buf)
		if n > 0 && (err == nil || c.stopping.Load()) {
			if c.opened.CompareAndSwap(false, true) {
				close(c.firstPCM)
			}
			sink.Push(Chunk{Seq: seq, PCM: buf[:n], CapturedAt: time.Now()})
			seq++
		}
		if err != nil {
			return err
		}
	}
}

func (c *ExecCapture) scanStatus(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.lastErr.Store(line)
		sendStatus(c.status, line)
	}
}

func (c *ExecCapture) finish(readErr, waitErr error) {
	if !c.stopping.Load() {
		detail := "capture process exited"
		if waitErr != nil {
			detail = waitErr.Error()
		} else if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			detail = readErr.Error()
		}
		if line, ok := c.lastErr.Load().(string); ok && line != "" {
			detail += ": " + line
		}
		if c.opened.Load() {
			c.err = fmt.Errorf("%w: %s", ErrDeviceLost, detail)
		} else {
			c.err = fmt.Errorf("%w: %s", ErrDeviceOpen, detail)
		}
	}
	close(c.done)
}

// Stop terminates the capture process and waits for the reader to finish.
func (c *ExecCapture) Stop() error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if c.stopping.Swap(true) {
		<-c.done
		return nil
	}
	select {
	case <-c.done:
		return nil
	default:
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop capture: %w", err)
	}
	<-c.done
	return nil
}

func (c *ExecCapture) pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *ExecCapture) Done() <-chan struct{} { return c.done }
func (c *ExecCapture) Status() <-chan string { return c.status }

// Err is only meaningful after Done is closed.
func (c *ExecCapture) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
