// SPDX-FileCopyrightText: Copyright 2026 toolgate contributors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/ngardiner/toolgate/pkg/logger"
	"github.com/ngardiner/toolgate/pkg/proxy/jsonrpc"
)

// Stdio runs a backend MCP server as a subprocess and speaks
// newline-delimited JSON-RPC over its stdin/stdout. Stderr is drained to the
// debug log so a noisy backend cannot block on a full pipe.
type Stdio struct {
	command string
	args    []string
	env     map[string]string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	messages  chan *jsonrpc.Message
	done      chan struct{}
	exited    atomic.Bool
	closeOnce sync.Once
}

// NewStdio creates a stdio transport for the given command line. The child
// inherits the parent environment with env entries layered on top.
func NewStdio(command string, args []string, env map[string]string) *Stdio {
	return &Stdio{
		command:  command,
		args:     args,
		env:      env,
		messages: make(chan *jsonrpc.Message, 16),
		done:     make(chan struct{}),
	}
}

// Connect spawns the subprocess and starts the reader goroutines.
func (s *Stdio) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}

	// The process deliberately outlives the Connect context: its lifetime is
	// bounded by Close, not by the connect timeout.
	cmd := exec.Command(s.command, s.args...)
	cmd.Env = os.Environ()
	for k, v := range s.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.command, err)
	}

	s.cmd = cmd
	s.stdin = stdin

	go s.readLoop(stdout)
	go s.drainStderr(stderr)
	go func() {
		// Reap the child so a crashed backend is observed by Ping.
		err := cmd.Wait()
		s.exited.Store(true)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debugw("backend subprocess exited", "command", s.command, "err", err)
		}
	}()

	return nil
}

// Send writes one newline-terminated JSON-RPC message to the child's stdin.
func (s *Stdio) Send(ctx context.Context, msg *jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return errors.New("transport is not connected")
	}
	if s.exited.Load() {
		return errors.New("backend subprocess has exited")
	}
	if _, err := s.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to subprocess: %w", err)
	}
	return nil
}

// Messages returns the inbound message channel.
func (s *Stdio) Messages() <-chan *jsonrpc.Message {
	return s.messages
}

// Ping reports whether the subprocess is still alive.
func (s *Stdio) Ping(_ context.Context) error {
	s.mu.Lock()
	started := s.cmd != nil
	s.mu.Unlock()

	if !started {
		return errors.New("subprocess not started")
	}
	if s.exited.Load() {
		return errors.New("subprocess has exited")
	}
	return nil
}

// Close terminates the subprocess and closes the message channel.
func (s *Stdio) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.stdin != nil {
			// Closing stdin asks a well-behaved server to exit on its own.
			_ = s.stdin.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil && !s.exited.Load() {
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}

func (s *Stdio) readLoop(stdout io.Reader) {
	defer close(s.messages)

	// bufio.Reader instead of Scanner so large tool results do not trip the
	// scanner's max token size.
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugw("stdio read failed", "command", s.command, "err", err)
			}
			return
		}
		if len(line) <= 1 {
			continue
		}

		var msg jsonrpc.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warnw("dropping unparsable message from backend", "command", s.command, "err", err)
			continue
		}

		select {
		case s.messages <- &msg:
		case <-s.done:
			return
		}
	}
}

func (s *Stdio) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Debugw("backend stderr", "command", s.command, "line", scanner.Text())
	}
}
