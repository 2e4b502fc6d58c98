package uv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Executor abstracts command execution for testability. onOutput receives
// every stdout and stderr line.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithPython pins the interpreter uv uses when creating environments.
func WithPython(python string) Option {
	return func(c *Client) {
		c.python = strings.TrimSpace(python)
	}
}

// Client wraps uv CLI interactions.
type Client struct {
	binary string
	python string
	exec   Executor
}

// New constructs a uv client.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("uv binary required")
	}
	client := &Client{binary: binary, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Binary returns the configured uv command.
func (c *Client) Binary() string {
	return c.binary
}

// InterpreterPath returns the Python interpreter inside a virtual environment.
func InterpreterPath(venv string) string {
	return filepath.Join(venv, "bin", "python")
}

// CreateVenv creates a virtual environment at path.
func (c *Client) CreateVenv(ctx context.Context, path string, timeout time.Duration) (string, error) {
	args := []string{"venv", path}
	if c.python != "" {
		args = append(args, "--python", c.python)
	}
	return c.run(ctx, timeout, args)
}

// Install installs packages into the environment at venv and returns the
// combined command output.
func (c *Client) Install(ctx context.Context, venv string, packages []string, timeout time.Duration) (string, error) {
	if len(packages) == 0 {
		return "", nil
	}
	args := append([]string{"pip", "install", "--python", InterpreterPath(venv)}, packages...)
	return c.run(ctx, timeout, args)
}

func (c *Client) run(ctx context.Context, timeout time.Duration, args []string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var (
		mu    sync.Mutex
		lines []string
	)
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	output := strings.Join(lines, "\n")
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return output, fmt.Errorf("uv %s timed out after %s: %w", args[0], timeout, ctxErr)
		}
		return output, fmt.Errorf("uv %s: %w", args[0], err)
	}
	return output, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
