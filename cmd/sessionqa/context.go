package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sessionqa/internal/config"
	"sessionqa/internal/ipc"
)

// commandContext carries the persistent flags and the lazily loaded config
// shared by every subcommand of one invocation.
type commandContext struct {
	socketFlag *string
	configFlag *string

	loaded     bool
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{socketFlag: socketFlag, configFlag: configFlag}
}

// ensureConfig loads the config once and creates its directories.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.loaded {
		return c.config, c.configErr
	}
	c.loaded = true
	cfg, resolved, _, err := config.Load(flagValue(c.configFlag))
	if err == nil {
		err = cfg.EnsureDirectories()
	}
	if err != nil {
		c.configErr = err
		return nil, err
	}
	c.config, c.configPath = cfg, resolved
	return cfg, nil
}

// socketPath prefers --socket, then the configured log dir, then the
// default location.
func (c *commandContext) socketPath() string {
	if socket := flagValue(c.socketFlag); socket != "" {
		return socket
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.SocketPath()
	}
	return defaultSocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return &dialError{socket: socket, err: err}
	}
	defer client.Close()
	return fn(client)
}

// dialError explains why the daemon socket was unreachable.
type dialError struct {
	socket string
	err    error
}

func (e *dialError) Error() string {
	switch {
	case errors.Is(e.err, syscall.ENOENT) || errors.Is(e.err, os.ErrNotExist):
		return fmt.Sprintf("connect to daemon: socket %s not found; start the daemon with `sessionqa daemon run`", e.socket)
	case errors.Is(e.err, syscall.ECONNREFUSED):
		return fmt.Sprintf("connect to daemon: socket %s refused the connection; verify the daemon is running", e.socket)
	default:
		return "connect to daemon: " + e.err.Error()
	}
}

func (e *dialError) Unwrap() error { return e.err }

func defaultSocketPath() string {
	logDir, err := config.ExpandPath("~/.local/share/sessionqa/logs")
	if err != nil {
		return filepath.Join(os.TempDir(), "sessionqa.sock")
	}
	return filepath.Join(logDir, "sessionqa.sock")
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

// skipConfigAnnotation marks commands (and their children) that must run
// without a loadable config, such as `config init`.
const skipConfigAnnotation = "skipConfigLoad"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
