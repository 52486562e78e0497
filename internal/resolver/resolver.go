// Package resolver computes the date range each station's next collection
// request must cover. It is pure: callers pass the station's stored watermark
// (or nil) and the current time, nothing here touches storage or the network.
package resolver

import "time"

// Mode selects between incremental and full-history resolution.
type Mode int

const (
	Incremental Mode = iota
	FullRefresh
)

// Range is an inclusive civil-date window, both bounds at UTC midnight.
type Range struct {
	Start time.Time
	End   time.Time
}

// Day truncates t to its UTC civil date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Resolve returns the window to request for one station. watermark is the
// station's latest stored end date, nil when nothing is stored yet. The
// second return is false when the station is up to date and no request
// should be issued; that is a normal no-op, not an error.
func Resolve(watermark *time.Time, mode Mode, origin, now time.Time) (Range, bool) {
	start := Day(origin)
	if mode != FullRefresh && watermark != nil {
		start = Day(*watermark).AddDate(0, 0, 1)
	}
	if !now.After(start) {
		return Range{}, false
	}
	return Range{Start: start, End: Day(now)}, true
}

// Contains reports whether the civil date of t falls inside r.
func (r Range) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days returns the number of civil days spanned by r, inclusive.
func (r Range) Days() int {
	return int(r.End.Sub(r.Start)/(24*time.Hour)) + 1
}
