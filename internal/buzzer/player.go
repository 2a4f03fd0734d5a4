package buzzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

var ErrNoPlayer = errors.New("no sound player available")

// NopPlayer plays nothing (SOUND_PLAYER=none).
type NopPlayer struct{}

func (NopPlayer) Play(ctx context.Context, cfg Config) error { return nil }

// CommandPlayer plays a sound through an external command-line player.
type CommandPlayer struct {
	Bin  string
	argv func(cfg Config) []string
}

// NewCommandPlayer builds a player for bin. afplay, paplay and aplay get
// their volume flags; any other binary is called with the sound path only.
func NewCommandPlayer(bin string) *CommandPlayer {
	p := &CommandPlayer{Bin: bin}
	switch filepath.Base(bin) {
	case "afplay":
		p.argv = func(cfg Config) []string {
			return []string{"-v", strconv.FormatFloat(cfg.Volume, 'f', 2, 64), cfg.Path}
		}
	case "paplay":
		p.argv = func(cfg Config) []string {
			// paplay volume is linear, 65536 = 100%.
			return []string{"--volume=" + strconv.Itoa(int(cfg.Volume*65536)), cfg.Path}
		}
	case "aplay":
		p.argv = func(cfg Config) []string { return []string{"-q", cfg.Path} }
	default:
		p.argv = func(cfg Config) []string { return []string{cfg.Path} }
	}
	return p
}

func (p *CommandPlayer) Args(cfg Config) []string { return p.argv(cfg) }

func (p *CommandPlayer) Play(ctx context.Context, cfg Config) error {
	if _, err := os.Stat(cfg.Path); err != nil {
		return fmt.Errorf("sound file: %w", err)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Bin, p.argv(cfg)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", filepath.Base(p.Bin), err, msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(p.Bin), err)
	}
	return nil
}

// NewPlayer resolves a player name: "none", "auto" (or empty), or an explicit
// binary name/path.
func NewPlayer(name string) (Player, error) {
	name = strings.TrimSpace(name)
	switch strings.ToLower(name) {
	case "none":
		return NopPlayer{}, nil
	case "", "auto":
		for _, cand := range autoCandidates(runtime.GOOS) {
			if bin, err := exec.LookPath(cand); err == nil {
				return NewCommandPlayer(bin), nil
			}
		}
		return nil, fmt.Errorf("%w on %s", ErrNoPlayer, runtime.GOOS)
	default:
		bin, err := exec.LookPath(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrNoPlayer, name, err)
		}
		return NewCommandPlayer(bin), nil
	}
}

func autoCandidates(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"afplay"}
	case "linux", "freebsd", "openbsd", "netbsd":
		return []string{"paplay", "aplay"}
	default:
		return nil
	}
}
