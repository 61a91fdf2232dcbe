package mac

// Timer is a millisecond-resolution countdown advanced by Clock. The MAC
// controller drives all of its timers from one tick source, which keeps the
// state machine deterministic under test.
type Timer struct {
	timeoutMS int
	elapsedMS int
	running   bool
}

// NewTimer creates a stopped timer.
func NewTimer() *Timer {
	return &Timer{}
}

// Start arms the timer with a timeout in milliseconds.
func (t *Timer) Start(timeoutMS int) {
	t.timeoutMS = timeoutMS
	t.elapsedMS = 0
	t.running = true
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.running = false
}

// Running returns true while the timer is armed and not yet expired.
func (t *Timer) Running() bool {
	return t.running
}

// Expired returns true once the armed timeout has fully elapsed.
func (t *Timer) Expired() bool {
	return t.timeoutMS > 0 && t.elapsedMS >= t.timeoutMS
}

// Clock advances the timer by the given number of milliseconds.
func (t *Timer) Clock(ms int) {
	if !t.running {
		return
	}
	t.elapsedMS += ms
	if t.elapsedMS >= t.timeoutMS {
		t.running = false
	}
}
