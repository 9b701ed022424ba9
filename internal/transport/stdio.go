package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

// stdoutBufferLimit caps a single newline-delimited message read from the child.
const stdoutBufferLimit = 8 * 1024 * 1024

// Stdio spawns the configured command and speaks newline-delimited JSON over its
// standard streams. Stdout chunks are framed into complete lines before delivery
// (partial lines are buffered across reads); stderr is logged separately.
type Stdio struct {
	logger    hclog.Logger
	def       config.ServerDefinition
	onMessage MessageHandler
	onExit    ExitHandler

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
}

// NewStdio creates an unstarted stdio connection for the definition.
func NewStdio(logger hclog.Logger, def config.ServerDefinition, onMessage MessageHandler, onExit ExitHandler) *Stdio {
	return &Stdio{
		logger:    logger.Named("stdio"),
		def:       def,
		onMessage: onMessage,
		onExit:    onExit,
	}
}

// Start spawns the process with the merged environment and wires its streams.
func (s *Stdio) Start(ctx context.Context) error {
	cmd := exec.Command(s.def.Command, s.def.Args...)
	cmd.Env = mergedEnviron(s.def.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe for '%s': %w", errors.ErrTransport, s.def.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe for '%s': %w", errors.ErrTransport, s.def.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe for '%s': %w", errors.ErrTransport, s.def.ID, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to spawn '%s' for server '%s': %w", errors.ErrTransport, s.def.Command, s.def.ID, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.mu.Unlock()

	s.logger.Debug("Spawned MCP server process", "server", s.def.ID, "command", s.def.Command, "pid", cmd.Process.Pid)

	go s.readLoop(stdout)
	go s.stderrLoop(stderr)
	go s.waitLoop(cmd)

	return nil
}

// Send writes one envelope followed by a newline. Serialized so concurrent calls
// cannot interleave bytes on the pipe.
func (s *Stdio) Send(_ context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.stdin == nil {
		return fmt.Errorf("%w: server '%s' not started", errors.ErrTransport, s.def.ID)
	}

	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write to server '%s': %w", errors.ErrTransport, s.def.ID, err)
	}
	return nil
}

// Close kills the process. The exit handler is suppressed; the caller already knows.
func (s *Stdio) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

// readLoop frames stdout into newline-delimited messages. bufio buffers partial
// lines across reads, so a message split over multiple chunks is delivered whole.
func (s *Stdio) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), stdoutBufferLimit)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := make([]byte, len(line))
		copy(msg, line)
		s.onMessage(msg)
	}

	if err := scanner.Err(); err != nil && !s.isClosed() {
		s.logger.Debug("Stdout closed", "server", s.def.ID, "error", err)
	}
}

// stderrLoop forwards the child's stderr to the logger, line by line.
func (s *Stdio) stderrLoop(stderr io.Reader) {
	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.logger.Info("stderr", "server", s.def.ID, "line", line)
		}
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				s.logger.Error("Error reading stderr", "server", s.def.ID, "error", err)
			}
			return
		}
	}
}

// waitLoop reaps the process and reports unsolicited exits to the owner.
func (s *Stdio) waitLoop(cmd *exec.Cmd) {
	err := cmd.Wait()

	if s.isClosed() {
		return
	}

	if err != nil {
		s.logger.Warn("MCP server process exited with error", "server", s.def.ID, "error", err)
		s.onExit(fmt.Errorf("%w: process exited: %w", errors.ErrTransport, err))
		return
	}

	s.logger.Debug("MCP server process exited cleanly", "server", s.def.ID)
	s.onExit(nil)
}

func (s *Stdio) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
