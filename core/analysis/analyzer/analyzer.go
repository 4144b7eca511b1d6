// Package analyzer runs the cjlint binary against a checked-out tree.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cordum/cjcard/core/infra/logging"
	"github.com/google/uuid"
)

// ErrExitStatus matches every *ExitError.
var ErrExitStatus = errors.New("analyzer exited non-zero")

// ExitError carries the captured output of a failed analyzer run.
type ExitError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("cjlint command failed with exit code: %d\nSTDOUT:\n%s\nSTDERR:\n%s", e.Code, e.Stdout, e.Stderr)
}

func (e *ExitError) Is(target error) bool { return target == ErrExitStatus }

// Options configure an Invoker.
type Options struct {
	// Binary is the absolute analyzer path.
	Binary string
	// RuntimeRoot is exported to the analyzer as LD_LIBRARY_PATH and CANGJIE_HOME.
	RuntimeRoot string
	// OutputDir receives the temporary JSON report. Defaults to os.TempDir().
	OutputDir string
	Timeout   time.Duration
}

type Invoker struct {
	opts Options
}

func New(opts Options) *Invoker {
	if opts.OutputDir == "" {
		opts.OutputDir = os.TempDir()
	}
	return &Invoker{opts: opts}
}

// Env is the environment added on top of the inherited one.
func (i *Invoker) Env() []string {
	return []string{
		"LD_LIBRARY_PATH=" + i.opts.RuntimeRoot,
		"CANGJIE_HOME=" + i.opts.RuntimeRoot,
	}
}

// Invoke runs the analyzer on dir and returns the raw JSON report text. The
// report file is removed afterwards; removal failures are only logged.
func (i *Invoker) Invoke(ctx context.Context, dir string) (string, error) {
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}
	output := filepath.Join(i.opts.OutputDir, uuid.NewString()+".json")
	defer removeOutput(output)

	LogMemory("analyzer")

	cmd := exec.CommandContext(ctx, i.opts.Binary, "-f", dir, "-r", "json", "-o", output)
	cmd.Env = append(os.Environ(), i.Env()...)
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("cjlint interrupted after %s: %w", time.Since(start).Round(time.Millisecond), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", &ExitError{Code: exitErr.ExitCode(), Stdout: stdout.String(), Stderr: stderr.String()}
		}
		return "", fmt.Errorf("start cjlint: %w", runErr)
	}
	logging.Info("analyzer", "cjlint finished", "dir", dir, "elapsed", time.Since(start).Round(time.Millisecond))

	// #nosec G304 -- output path is generated above.
	data, err := os.ReadFile(output)
	if err != nil {
		return "", fmt.Errorf("read cjlint output: %w", err)
	}
	return string(data), nil
}

func removeOutput(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("analyzer", "remove output failed", "path", path, "error", err)
	}
}
