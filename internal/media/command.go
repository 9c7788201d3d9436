package media

import (
	"context"
	"os/exec"
)

// Runner executes an external program and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func tail(out []byte, n int) string {
	if len(out) <= n {
		return string(out)
	}
	return "..." + string(out[len(out)-n:])
}
