package buzzer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var soundExts = map[string]bool{
	".aiff": true, ".aif": true, ".wav": true, ".caf": true,
	".mp3": true, ".m4a": true, ".ogg": true, ".oga": true,
}

// AvailableSounds lists sound files directly under dirs, sorted by name.
// Unreadable directories are skipped.
func AvailableSounds(dirs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !soundExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := SoundName(out[i]), SoundName(out[j])
		if ni != nj {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return out
}

// SoundName is the file name without directory and extension ("Submarine").
func SoundName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
