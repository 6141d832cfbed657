package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// SystemdRestarter restarts the proxy daemon through the host service
// manager. No explicit timeout: systemctl itself bounds the wait.
type SystemdRestarter struct {
	Service string
	Logger  *slog.Logger
}

func (r *SystemdRestarter) Restart(ctx context.Context) error {
	r.Logger.Info("restarting proxy daemon", "service", r.Service)
	cmd := exec.CommandContext(ctx, "systemctl", "restart", r.Service)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl restart %s: %w (%s)", r.Service, err, out)
	}
	return nil
}
