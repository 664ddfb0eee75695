package service

import (
	"math"
	"regexp"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/models"
)

const (
	staleAfter     = 30 * time.Minute
	veryStaleAfter = 2 * time.Hour
)

var agoMagnitudes = []humanize.RelTimeMagnitude{
	{D: 45 * time.Second, Format: "now", DivBy: time.Second},
	{D: time.Hour, Format: "%dm %s", DivBy: time.Minute},
	{D: 24 * time.Hour, Format: "%dh %s", DivBy: time.Hour},
	{D: math.MaxInt64, Format: "%dd %s", DivBy: 24 * time.Hour},
}

var ymdHM = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ](\d{2}):(\d{2})`)

// formatUpdated shortens a timestamp to "YYYY-MM-DD HH:MM" when it looks
// like one.
func formatUpdated(s string) string {
	if m := ymdHM.FindStringSubmatch(s); m != nil {
		return m[1] + " " + m[2] + ":" + m[3]
	}
	return s
}

// Freshness classifies how old meta is at now. A timestamp that cannot be
// parsed is shown as-is and treated as fresh.
func Freshness(meta dataset.Meta, now time.Time) *models.Freshness {
	if meta.UpdatedAt == "" {
		return nil
	}
	f := &models.Freshness{UpdatedAt: meta.UpdatedAt, Class: "fresh"}
	f.Label = "Last updated: " + formatUpdated(meta.UpdatedAt)
	if meta.Updated.IsZero() {
		return f
	}

	diff := now.Sub(meta.Updated)
	f.Ago = humanize.CustomRelTime(meta.Updated, now, "ago", "from now", agoMagnitudes)
	switch {
	case diff > veryStaleAfter:
		f.Class = "very-stale"
	case diff > staleAfter:
		f.Class = "stale"
	}
	f.Label += " (" + f.Ago + ")"
	return f
}
