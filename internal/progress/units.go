package progress

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	kib = 1024
	mib = kib * 1024
	gib = mib * 1024
	tib = gib * 1024
)

// FormatBytes formats b as a human-readable binary size.
func FormatBytes(b int64) string {
	switch {
	case b < 0:
		return "?"
	case b >= tib:
		return fmt.Sprintf("%.2f TiB", float64(b)/tib)
	case b >= gib:
		return fmt.Sprintf("%.2f GiB", float64(b)/gib)
	case b >= mib:
		return fmt.Sprintf("%.2f MiB", float64(b)/mib)
	case b >= kib:
		return fmt.Sprintf("%.2f KiB", float64(b)/kib)
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatETA renders seconds as "1h 2m 3s". Zero means unknown.
func FormatETA(seconds int64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", seconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), seconds%60)
	default:
		return fmt.Sprintf("%dh %dm %ds", int(d.Hours()), int(d.Minutes())%60, seconds%60)
	}
}

var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"TIB", tib}, {"GIB", gib}, {"MIB", mib}, {"KIB", kib},
	{"TB", tib}, {"GB", gib}, {"MB", mib}, {"KB", kib},
	{"T", tib}, {"G", gib}, {"M", mib}, {"K", kib},
	{"B", 1},
}

// ParseBytes parses sizes such as "512", "4MiB", "1.5 GB" or "200k". All
// units are binary multiples.
func ParseBytes(s string) (int64, error) {
	in := strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(in, u.suffix) {
			mult = u.mult
			in = strings.TrimSpace(strings.TrimSuffix(in, u.suffix))
			break
		}
	}
	v, err := strconv.ParseFloat(in, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	return int64(v * float64(mult)), nil
}
