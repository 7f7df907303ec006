package integrate

import "sort"

const breakpointEps = 1e-15

// Breakpoints is the ordered set of times a transient analysis must land
// on exactly: PULSE/PWL source edges, .IC discontinuities, anything a
// device registers during Stamp. Entries made during a step that later
// gets rejected must be undone, which is what Mark/Rollback are for.
type Breakpoints struct {
	times []float64
}

// NewBreakpoints returns an empty breakpoint table.
func NewBreakpoints() *Breakpoints { return &Breakpoints{} }

// Mark returns a token representing the table's current length, to be
// passed to Rollback if the step being stamped is later rejected.
func (b *Breakpoints) Mark() int { return len(b.times) }

// Rollback discards every breakpoint inserted since mark was taken.
func (b *Breakpoints) Rollback(mark int) {
	if mark < len(b.times) {
		b.times = b.times[:mark]
	}
}

// Insert records t as a breakpoint, keeping the table sorted and
// deduplicated. Safe to call unconditionally from a device's Stamp.
func (b *Breakpoints) Insert(t float64) {
	i := sort.Search(len(b.times), func(i int) bool { return b.times[i] >= t })
	if i < len(b.times) && b.times[i]-t < breakpointEps && t-b.times[i] < breakpointEps {
		return
	}
	b.times = append(b.times, 0)
	copy(b.times[i+1:], b.times[i:])
	b.times[i] = t
}

// Next returns the smallest recorded breakpoint strictly greater than
// after, if any.
func (b *Breakpoints) Next(after float64) (float64, bool) {
	i := sort.Search(len(b.times), func(i int) bool { return b.times[i] > after })
	if i >= len(b.times) {
		return 0, false
	}
	return b.times[i], true
}

// SnapStep shortens a proposed step from t to t+dt so it lands exactly on
// the next breakpoint, if that breakpoint falls within the step (or
// within tol of its far end, to avoid a following step smaller than tol).
// It reports whether a snap occurred.
func (b *Breakpoints) SnapStep(t, dt, tol float64) (float64, bool) {
	next, ok := b.Next(t)
	if !ok {
		return dt, false
	}
	if next <= t {
		return dt, false
	}
	if next-t <= dt+tol {
		return next - t, true
	}
	return dt, false
}
