package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// SystemPresenter shows notifications through the host's notification
// command. Tag-based dismissal is best effort: most command line notifiers
// cannot retract a shown notification, so Dismiss is a no-op there.
type SystemPresenter struct {
	logger *zap.Logger
}

func NewSystemPresenter(logger *zap.Logger) *SystemPresenter {
	return &SystemPresenter{logger: logger}
}

func (p *SystemPresenter) Show(n Notification) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("notify-send", "--expire-time=5000", n.Title, n.Body)
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q",
			sanitize(n.Body), sanitize(n.Title))
		cmd = exec.Command("osascript", "-e", script)
	case "windows":
		script := fmt.Sprintf(
			"New-BurntToastNotification -Text '%s','%s'",
			sanitize(n.Title), sanitize(n.Body))
		cmd = exec.Command("powershell", "-c", script)
	default:
		return fmt.Errorf("unsupported platform for notifications: %s", runtime.GOOS)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("showing notification: %w", err)
	}
	return nil
}

func (p *SystemPresenter) Dismiss(tag string) {
	// Command line notifiers cannot retract by tag
	p.logger.Debug("Dismiss requested", zap.String("tag", tag))
}

// Permission reports granted: command line notifiers have no permission
// model of their own.
func (p *SystemPresenter) Permission() PermissionStatus {
	return PermissionGranted
}

func (p *SystemPresenter) RequestPermission() PermissionStatus {
	return PermissionGranted
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "'", "")
	return strings.ReplaceAll(s, "\"", "")
}
