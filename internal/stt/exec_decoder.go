package stt

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/procgroup"
	"github.com/mattn/go-shellwords"
)

// execDecoder talks to a long-running decoder process. Each chunk is written
// to stdin as a 4-byte big-endian length followed by the PCM bytes, and the
// process answers with exactly one JSON line:
//
//	{"final": true, "text": "hello world"}
//	{"final": false, "partial": "hel"}
//
// A zero-length frame asks the process to flush its buffered utterance.
type execDecoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	logger *slog.Logger
	mu     sync.Mutex
	last   []byte
	closed bool
}

type execResult struct {
	Final bool `json:"final"`
}

// NewExecDecoder starts command with --model and --sample-rate appended. The
// process gets its own process group so a terminal interrupt leaves it alive
// until the session has drained and flushed.
func NewExecDecoder(command, modelPath string, sampleRate int, logger *slog.Logger) (Decoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	cmdArgs := append([]string{}, args[1:]...)
	if modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", modelPath)
	}
	cmdArgs = append(cmdArgs, "--sample-rate", strconv.Itoa(sampleRate))

	cmd := exec.Command(args[0], cmdArgs...)
	procgroup.Detach(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stt stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stt stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start stt command: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &execDecoder{cmd: cmd, stdin: stdin, reader: bufio.NewReader(stdout), logger: logger}, nil
}

func (d *execDecoder) roundTrip(pcm []byte) ([]byte, error) {
	if d.closed {
		return nil, fmt.Errorf("stt command closed")
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(pcm)))
	if _, err := d.stdin.Write(header[:]); err != nil {
		return nil, fmt.Errorf("write frame header: %w", err)
	}
	if len(pcm) > 0 {
		if _, err := d.stdin.Write(pcm); err != nil {
			return nil, fmt.Errorf("write frame: %w", err)
		}
	}
	line, err := d.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read stt response: %w", err)
	}
	return line, nil
}

func (d *execDecoder) AcceptWaveform(pcm []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	line, err := d.roundTrip(pcm)
	if err != nil {
		d.last = nil
		return false, err
	}
	d.last = line
	var resp execResult
	if err := json.Unmarshal(line, &resp); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return resp.Final, nil
}

func (d *execDecoder) Result() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *execDecoder) PartialResult() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *execDecoder) FinalResult() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	line, err := d.roundTrip(nil)
	if err != nil {
		d.logger.Error("stt flush failed, trailing utterance lost", slog.String("error", err.Error()))
		return []byte(`{"text": ""}`)
	}
	return line
}

func (d *execDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	_ = d.stdin.Close()
	if err := d.cmd.Wait(); err != nil {
		return fmt.Errorf("stt command exit: %w", err)
	}
	return nil
}
