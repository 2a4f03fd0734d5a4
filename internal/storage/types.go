package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound means nothing has been persisted yet.
	ErrNotFound = errors.New("stats not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON document at Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DateLayout is the format of Stats.LastResetDate.
const DateLayout = "2006-01-02"

// Stats is the persisted alert state.
type Stats struct {
	TotalAlerts   int64
	AlertsToday   int64
	LastAlertTime *time.Time
	LastResetDate string
}

// statsJSON is the wire form:
//
//	{"total_alerts": 3, "alerts_today": 1, "last_alert_time": "2024-05-01T10:00:00+02:00", "last_reset_date": "2024-05-01"}
type statsJSON struct {
	TotalAlerts   int64   `json:"total_alerts"`
	AlertsToday   int64   `json:"alerts_today"`
	LastAlertTime *string `json:"last_alert_time"`
	LastResetDate string  `json:"last_reset_date"`
}

func (s Stats) MarshalJSON() ([]byte, error) {
	w := statsJSON{TotalAlerts: s.TotalAlerts, AlertsToday: s.AlertsToday, LastResetDate: s.LastResetDate}
	if s.LastAlertTime != nil {
		v := s.LastAlertTime.Format(time.RFC3339)
		w.LastAlertTime = &v
	}
	return json.Marshal(w)
}

func (s *Stats) UnmarshalJSON(b []byte) error {
	var w statsJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Stats{TotalAlerts: w.TotalAlerts, AlertsToday: w.AlertsToday, LastResetDate: w.LastResetDate}
	if w.LastAlertTime != nil && strings.TrimSpace(*w.LastAlertTime) != "" {
		t, err := ParseTimestamp(*w.LastAlertTime)
		if err != nil {
			return err
		}
		out.LastAlertTime = &t
	}
	*s = out
	return nil
}

// naiveLayouts are ISO-8601 forms without a zone, read as local time.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO-8601 timestamps.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
