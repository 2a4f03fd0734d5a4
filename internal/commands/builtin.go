package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"oncallbuzzer/internal/buzzer"
	"oncallbuzzer/internal/storage"
	kit "oncallbuzzer/internal/transport"
)

// LastAlertLayout is how /buzzer-stats prints the last alert time.
const LastAlertLayout = "2006-01-02 15:04:05"

const maxListedSounds = 10

type StatsSource interface {
	Enabled() bool
	Snapshot() storage.Stats
	Cooldown() time.Duration
}

type Trigger interface {
	Trigger() bool
}

// Deps feed the built-in commands.
type Deps struct {
	Stats     StatsSource
	Buzzer    Trigger
	SoundPath string
	SoundDirs []string
}

// RegisterBuiltins installs /buzzer-stats, /buzzer-sounds, /buzzer-test and /buzzer-help.
func RegisterBuiltins(r *Router, d Deps) error {
	cmds := []Command{
		{Name: "/buzzer-stats", Description: "Alert counters and cooldown", Handle: statsHandler(d)},
		{Name: "/buzzer-sounds", Description: "Available sounds", Handle: soundsHandler(d)},
		{Name: "/buzzer-test", Description: "Play the buzzer once", Handle: testHandler(d)},
		{Name: "/buzzer-help", Description: "List commands", Handle: helpHandler(r)},
	}
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func statsHandler(d Deps) HandlerFunc {
	return func(ctx context.Context, _ kit.Command) (string, error) {
		if d.Stats == nil || !d.Stats.Enabled() {
			return "Stats tracking is disabled", nil
		}
		return FormatStats(d.Stats.Snapshot(), d.Stats.Cooldown()), nil
	}
}

// FormatStats renders the /buzzer-stats reply.
func FormatStats(s storage.Stats, cooldown time.Duration) string {
	last := "Never"
	if s.LastAlertTime != nil {
		last = s.LastAlertTime.Format(LastAlertLayout)
	}
	var b strings.Builder
	b.WriteString(":bar_chart: Buzzer Stats:\n")
	fmt.Fprintf(&b, "• Total alerts: %d\n", s.TotalAlerts)
	fmt.Fprintf(&b, "• Alerts today: %d\n", s.AlertsToday)
	fmt.Fprintf(&b, "• Last alert: %s\n", last)
	fmt.Fprintf(&b, "• Rate limit: %d minutes", int(cooldown.Minutes()))
	return b.String()
}

func soundsHandler(d Deps) HandlerFunc {
	return func(ctx context.Context, _ kit.Command) (string, error) {
		sounds := buzzer.AvailableSounds(d.SoundDirs)
		if len(sounds) > maxListedSounds {
			sounds = sounds[:maxListedSounds]
		}
		var b strings.Builder
		b.WriteString(":loud_sound: Available sounds:\n")
		if len(sounds) == 0 {
			b.WriteString("(none found)\n")
		}
		for _, s := range sounds {
			fmt.Fprintf(&b, "• %s\n", buzzer.SoundName(s))
		}
		fmt.Fprintf(&b, "\nCurrent: %s", buzzer.SoundName(d.SoundPath))
		return b.String(), nil
	}
}

func testHandler(d Deps) HandlerFunc {
	return func(ctx context.Context, _ kit.Command) (string, error) {
		if d.Buzzer == nil {
			return "Buzzer is not available", nil
		}
		if d.Buzzer.Trigger() {
			return ":bell: Test buzz started", nil
		}
		return "Buzzer is already playing", nil
	}
}

func helpHandler(r *Router) HandlerFunc {
	return func(ctx context.Context, _ kit.Command) (string, error) {
		var b strings.Builder
		b.WriteString("Commands:")
		for _, c := range r.Commands() {
			fmt.Fprintf(&b, "\n• %s - %s", c.Name, c.Description)
		}
		return b.String(), nil
	}
}
