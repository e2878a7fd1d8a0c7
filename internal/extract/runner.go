package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner executes an external OCR tool and returns its stdout. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools as child processes; the process is killed when ctx ends.
type ExecRunner struct {
	log zerolog.Logger
}

func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{log: log.With().Str("component", "ocr_runner").Logger()}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)
	if err != nil {
		r.log.Error().Err(err).Str("cmd", name).Str("args", strings.Join(args, " ")).
			Int64("duration_ms", dur.Milliseconds()).Str("stderr", truncate(errb.String(), 8<<10)).
			Msg("exec failed")
		if msg := strings.TrimSpace(errb.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, truncate(msg, 512))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	r.log.Debug().Str("cmd", name).Int64("duration_ms", dur.Milliseconds()).
		Int("stdout_bytes", out.Len()).Msg("exec ok")
	return out.Bytes(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
