package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// SSHConfig configures the ssh/rsync-backed executor.
type SSHConfig struct {
	// User and Host identify the annotation host account.
	User string
	Host string

	// KeyFile is the path to the ssh identity file.
	KeyFile string
}

// Validate checks that required configuration is present.
func (c *SSHConfig) Validate() error {
	if c.User == "" {
		return fmt.Errorf("ssh config: user is required")
	}
	if c.Host == "" {
		return fmt.Errorf("ssh config: host is required")
	}
	return nil
}

// SSH runs commands on the annotation host through the local ssh binary and
// moves directories with rsync. It implements Executor and Transferrer.
type SSH struct {
	cfg SSHConfig
	log *zap.Logger
}

var (
	_ Executor    = (*SSH)(nil)
	_ Transferrer = (*SSH)(nil)
)

// NewSSH creates an ssh-backed executor for the given host.
func NewSSH(cfg SSHConfig, log *zap.Logger) (*SSH, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SSH{cfg: cfg, log: log}, nil
}

func (s *SSH) target() string {
	return s.cfg.User + "@" + s.cfg.Host
}

func (s *SSH) sshArgs() []string {
	args := []string{}
	if s.cfg.KeyFile != "" {
		args = append(args, "-i", s.cfg.KeyFile)
	}
	return append(args, s.target())
}

// Run executes cmd on the annotation host.
func (s *SSH) Run(ctx context.Context, cmd Command) (Result, error) {
	line := buildRemoteLine(cmd)
	args := append(s.sshArgs(), line)

	c := exec.CommandContext(ctx, "ssh", args...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			s.log.Debug("remote command exited non-zero",
				zap.String("host", s.cfg.Host),
				zap.Int("exit_code", res.ExitCode),
				zap.String("stderr", res.Stderr))
			return res, nil
		}
		return res, fmt.Errorf("run ssh: %w", err)
	}
	return res, nil
}

// buildRemoteLine composes the single shell line handed to ssh. All
// argument quoting for the remote shell happens here.
func buildRemoteLine(cmd Command) string {
	var parts []string
	if cmd.Dir != "" {
		parts = append(parts, "cd "+Quote(cmd.Dir)+" &&")
	}
	if len(cmd.Env) > 0 {
		env := make([]string, len(cmd.Env))
		for i, kv := range cmd.Env {
			// KEY=VALUE: quote the value half only, so the assignment
			// survives the remote shell.
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[i] = k + "=" + Quote(v)
			} else {
				env[i] = Quote(kv)
			}
		}
		parts = append(parts, "env "+strings.Join(env, " "))
	}
	parts = append(parts, QuoteAll(cmd.Argv))
	return strings.Join(parts, " ")
}

// Push uploads localDir to remoteDir on the annotation host.
func (s *SSH) Push(ctx context.Context, localDir, remoteDir string, delete bool) error {
	args := []string{"-a"}
	if delete {
		args = append(args, "--delete")
	}
	args = append(args, s.rsyncSSHArg())
	args = append(args, localDir, s.target()+":"+remoteDir)
	return s.rsync(ctx, args)
}

// Pull downloads remoteDir from the annotation host into localDir.
func (s *SSH) Pull(ctx context.Context, remoteDir, localDir string, includes []string) error {
	args := []string{"-a"}
	if len(includes) > 0 {
		for _, inc := range includes {
			args = append(args, "--include="+inc)
		}
		args = append(args, "--include=*/", "--exclude=*", "--prune-empty-dirs")
	}
	args = append(args, s.rsyncSSHArg())
	args = append(args, s.target()+":"+remoteDir, localDir)
	return s.rsync(ctx, args)
}

func (s *SSH) rsyncSSHArg() string {
	if s.cfg.KeyFile == "" {
		return "-e=ssh"
	}
	return "-e=ssh -i " + s.cfg.KeyFile
}

func (s *SSH) rsync(ctx context.Context, args []string) error {
	c := exec.CommandContext(ctx, "rsync", args...)
	var stderr bytes.Buffer
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
