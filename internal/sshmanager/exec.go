package sshmanager

import (
	"bytes"
	"context"
	"errors"
	"log"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/sshdeck/internal/logutil"
)

// CommandResult is the outcome of a one-shot command. Success is true only
// when the command ran and exited 0. Error carries stderr when there was
// any, or the failure reason when the command could not run.
type CommandResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// ExecuteCommand runs command on identity's client over a new exec channel.
// Cancelling ctx closes the channel. The identity's record keeps the last
// command and its output.
func (m *Manager) ExecuteCommand(ctx context.Context, identity, command string) CommandResult {
	client, ok := m.registry.client(identity)
	if !ok {
		return CommandResult{Error: ErrNotConnected.Error()}
	}

	session, err := client.NewSession()
	if err != nil {
		log.Printf("[exec] open channel on %s: %v", logutil.SanitizeForLog(identity), err)
		return CommandResult{Error: err.Error()}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Close()
		log.Printf("[exec] %s on %s cancelled", logutil.Preview(command, 80), logutil.SanitizeForLog(identity))
		return CommandResult{Error: ctx.Err().Error()}
	}

	res := CommandResult{Output: stdout.String()}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		code := 0
		res.ExitCode = &code
		res.Success = true
	case errors.As(err, &exitErr):
		code := exitErr.ExitStatus()
		res.ExitCode = &code
	default:
		res.Error = err.Error()
	}
	if stderr.Len() > 0 {
		res.Error = stderr.String()
	}

	m.registry.recordCommand(identity, command, res.Output)
	return res
}
