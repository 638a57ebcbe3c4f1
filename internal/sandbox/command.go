package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommandResult is the outcome of a one-shot command.
type CommandResult struct {
	Command  string `json:"command"`
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
}

// outputPollInterval is how often ExecuteCommand re-checks the session
// buffer for the completion sentinel.
const outputPollInterval = 25 * time.Millisecond

// ExecuteCommand runs one command in a throwaway shell session and
// waits for it to finish. Completion is detected by an explicit
// protocol rather than a fixed delay: the command is suffixed with an
// echo of a unique sentinel plus the shell's $?, and the call resolves
// when that sentinel shows up in the output stream. The reported exit
// code is the command's real one.
//
// workdir, when non-empty, is resolved inside the sandbox and entered
// before the command runs. Callers needing interactivity or streaming
// use CreateShell and poll the session directly.
func (s *Sandbox) ExecuteCommand(ctx context.Context, command, workdir string) (*CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	sess, err := s.CreateShell()
	if err != nil {
		return nil, err
	}
	defer func() {
		s.TerminateShell(sess.ID())
	}()

	if workdir != "" {
		dir, err := s.resolve(workdir)
		if err != nil {
			return nil, err
		}
		if err := sess.Write(fmt.Sprintf("cd %s\n", shellQuote(dir))); err != nil {
			return nil, err
		}
	}

	// The PTY echoes the input line back, so the sentinel must be
	// recognizable only in its expanded form: the echoed input carries
	// a literal "$?" where the result line carries digits.
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	sentinel := "__DONE_" + token
	donePattern := regexp.MustCompile(regexp.QuoteMeta(sentinel) + `_(\d+)`)

	line := fmt.Sprintf("%s; echo %s_$?\n", command, sentinel)
	if err := sess.Write(line); err != nil {
		return nil, err
	}

	timeout := s.cfg.Shell.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(outputPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &CommandResult{
				Command:  command,
				Output:   stripSentinel(sess.Output(), sentinel),
				ExitCode: -1,
			}, fmt.Errorf("command cancelled: %w", ctx.Err())
		case <-deadline.C:
			s.logger.Warn("command timed out", zap.String("command", command), zap.Duration("timeout", timeout))
			return &CommandResult{
				Command:  command,
				Output:   stripSentinel(sess.Output(), sentinel),
				ExitCode: -1,
			}, fmt.Errorf("command did not complete within %s", timeout)
		case <-sess.Done():
			// The shell exited. The sentinel may still have made it out
			// just before (e.g. `false; exit`), so check once more.
			output := sess.Output()
			if m := donePattern.FindStringSubmatch(output); m != nil {
				exitCode, convErr := strconv.Atoi(m[1])
				if convErr != nil {
					exitCode = -1
				}
				if s.metrics != nil {
					s.metrics.CommandsTotal.Inc()
				}
				return &CommandResult{
					Command:  command,
					Output:   stripSentinel(output, sentinel),
					ExitCode: exitCode,
				}, nil
			}
			return &CommandResult{
				Command:  command,
				Output:   stripSentinel(output, sentinel),
				ExitCode: -1,
			}, fmt.Errorf("shell exited before command completed")
		case <-ticker.C:
			output := sess.Output()
			m := donePattern.FindStringSubmatch(output)
			if m == nil {
				continue
			}

			exitCode, convErr := strconv.Atoi(m[1])
			if convErr != nil {
				exitCode = -1
			}

			if s.metrics != nil {
				s.metrics.CommandsTotal.Inc()
			}

			return &CommandResult{
				Command:  command,
				Output:   stripSentinel(output, sentinel),
				ExitCode: exitCode,
			}, nil
		}
	}
}

// stripSentinel removes every line mentioning the sentinel token (the
// echoed input and the result line) so callers see only command output.
func stripSentinel(output, sentinel string) string {
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.Contains(l, sentinel) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

// shellQuote single-quotes a string for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
