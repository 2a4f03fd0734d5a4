package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	kit "oncallbuzzer/internal/transport"
)

// DesktopSink raises a local desktop notification.
type DesktopSink struct {
	bin  string
	argv func(n Notification) []string
}

// NewDesktopSink picks the notification command for goos: osascript on
// darwin, notify-send elsewhere. It fails when the command is missing.
func NewDesktopSink(goos string) (*DesktopSink, error) {
	if goos == "" {
		goos = runtime.GOOS
	}
	var s DesktopSink
	switch goos {
	case "darwin":
		s.bin = "osascript"
		s.argv = func(n Notification) []string {
			script := fmt.Sprintf("display notification %s with title %s sound name \"default\"",
				appleString(n.Text), appleString(n.Title))
			return []string{"-e", script}
		}
	default:
		s.bin = "notify-send"
		s.argv = func(n Notification) []string {
			urgency := "normal"
			if n.Priority >= 9 {
				urgency = "critical"
			}
			return []string{"-u", urgency, "-a", "oncall-buzzer", n.Title, n.Text}
		}
	}
	bin, err := exec.LookPath(s.bin)
	if err != nil {
		return nil, fmt.Errorf("desktop notifications: %w", err)
	}
	s.bin = bin
	return &s, nil
}

func (s *DesktopSink) Name() string { return "desktop" }

func (s *DesktopSink) Args(n Notification) []string { return s.argv(n) }

func (s *DesktopSink) Send(ctx context.Context, n Notification) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.bin, s.argv(n)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// appleString quotes s as an AppleScript string literal.
func appleString(s string) string {
	// AppleScript string escapes match Go's for quotes and backslashes.
	q := strconv.Quote(s)
	q = strings.ReplaceAll(q, `\n`, `" & linefeed & "`)
	return q
}

// SlackSink posts notifications into a Slack channel.
type SlackSink struct {
	poster  kit.Poster
	channel string
}

func NewSlackSink(poster kit.Poster, channel string) (*SlackSink, error) {
	if poster == nil {
		return nil, errors.New("slack sink: nil poster")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("slack sink: channel is required")
	}
	return &SlackSink{poster: poster, channel: channel}, nil
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, n Notification) error {
	return s.poster.PostMessage(ctx, s.channel, prefixForPriority(n.Priority)+"*"+n.Title+"*\n"+n.Text)
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return ":rotating_light: "
	case p >= 7:
		return ":warning: "
	case p >= 5:
		return ":information_source: "
	default:
		return ""
	}
}
