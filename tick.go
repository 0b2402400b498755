package kiln

// Tick is a wrapping logical clock advanced once per schedule step. Change
// detection (Added<T>/Changed<T>) compares ticks with wrap-safe arithmetic
// so that a world which runs for a very long time never produces a false
// "changed" report purely because the counter wrapped around.
type Tick uint32

// MaxDelta bounds how far apart two ticks may drift before comparisons
// become unreliable. Ticks older than `now - MaxDelta` are periodically
// rewritten to `now - MaxDelta` by World.AdvanceTick.
const MaxDelta Tick = 1 << 30

// IsNewerThan reports whether t is strictly newer than other, as observed
// at the given "now" tick. Both t and other are assumed to lie within
// MaxDelta of now; callers that violate this (by letting ticks go
// unclamped for too long) may get a wrong answer, which is exactly the
// wraparound failure mode clamping exists to prevent.
func (t Tick) IsNewerThan(other, now Tick) bool {
	da := now - t
	db := now - other
	return da < db
}

// Clamp rewrites t to now-MaxDelta if it has drifted further than that,
// keeping future wrap-safe comparisons accurate.
func (t Tick) Clamp(now Tick) Tick {
	if now-t > MaxDelta {
		return now - MaxDelta
	}
	return t
}

// ComponentTicks records when a component value was added to, and last
// changed on, a given row.
type ComponentTicks struct {
	Added   Tick
	Changed Tick
}

// IsAdded reports whether the component was added since lastRun, evaluated
// relative to now.
func (c ComponentTicks) IsAdded(lastRun, now Tick) bool {
	return c.Added.IsNewerThan(lastRun, now)
}

// IsChanged reports whether the component changed since lastRun, evaluated
// relative to now. A component is also "changed" on the tick it was added.
func (c ComponentTicks) IsChanged(lastRun, now Tick) bool {
	return c.Changed.IsNewerThan(lastRun, now)
}

// clamp rewrites both ticks relative to now, mirroring Tick.Clamp.
func (c *ComponentTicks) clamp(now Tick) {
	c.Added = c.Added.Clamp(now)
	c.Changed = c.Changed.Clamp(now)
}
