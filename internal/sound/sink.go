package sound

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

// SystemSink plays audio through the host's command line player. Synthesized
// PCM is wrapped into a WAV file first; the player is resolved once at
// construction.
type SystemSink struct {
	player []string
	tmpDir string
	logger *zap.Logger
}

func NewSystemSink(logger *zap.Logger) (*SystemSink, error) {
	player, err := resolvePlayer()
	if err != nil {
		return nil, err
	}

	return &SystemSink{
		player: player,
		tmpDir: os.TempDir(),
		logger: logger,
	}, nil
}

func resolvePlayer() ([]string, error) {
	switch runtime.GOOS {
	case "linux":
		for _, candidate := range [][]string{{"paplay"}, {"aplay", "-q"}, {"play", "-q"}} {
			if _, err := exec.LookPath(candidate[0]); err == nil {
				return candidate, nil
			}
		}
		return nil, fmt.Errorf("no audio player found (tried paplay, aplay, play)")
	case "darwin":
		return []string{"afplay"}, nil
	case "windows":
		return []string{"powershell", "-c"}, nil
	default:
		return nil, fmt.Errorf("unsupported platform for audio playback: %s", runtime.GOOS)
	}
}

func (s *SystemSink) PlayPCM(samples []int16, rate int) error {
	return s.PlayClip(encodeWAV(samples, rate))
}

func (s *SystemSink) PlayClip(wav []byte) error {
	path := filepath.Join(s.tmpDir, "presence-agent-chime.wav")
	if err := os.WriteFile(path, wav, 0o600); err != nil {
		return fmt.Errorf("writing clip: %w", err)
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		script := fmt.Sprintf("(New-Object Media.SoundPlayer '%s').PlaySync()", path)
		cmd = exec.Command(s.player[0], s.player[1], script)
	} else {
		args := append(s.player[1:], path)
		cmd = exec.Command(s.player[0], args...)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playing clip: %w", err)
	}
	return nil
}
