package update

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Updater applies a new build out-of-band; the process is expected to be
// replaced or restarted by whatever the implementation triggers.
type Updater interface {
	Apply(ctx context.Context, targetVersion string) error
}

// ExecUpdater shells out to an operator-provided command, appending the
// target version as the last argument. This matches the deployment model
// where a supervisor (container runtime, systemd unit) owns the actual
// binary swap.
type ExecUpdater struct {
	Command []string
	Timeout time.Duration
}

func (u *ExecUpdater) Apply(ctx context.Context, targetVersion string) error {
	if len(u.Command) == 0 {
		return fmt.Errorf("apply update: no update command configured")
	}
	timeout := u.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), u.Command[1:]...), targetVersion)
	cmd := exec.CommandContext(ctx, u.Command[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("apply update to %s: %w: %s", targetVersion, err, strings.TrimSpace(string(out)))
	}
	return nil
}
