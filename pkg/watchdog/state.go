package watchdog

// DefaultMaxFailures bounds consecutive failures before a check disables itself.
const DefaultMaxFailures = 10

// DetectionState counts consecutive failures of a single watchdog.
type DetectionState struct {
	Failures    int
	MaxFailures int
	Disabled    bool
}

// NewDetectionState returns a state that disables after max consecutive failures.
func NewDetectionState(max int) *DetectionState {
	if max <= 0 {
		max = DefaultMaxFailures
	}
	return &DetectionState{MaxFailures: max}
}

// Fail records a failure and reports whether the watchdog is now disabled.
func (s *DetectionState) Fail() bool {
	if s.Disabled {
		return true
	}
	s.Failures++
	if s.Failures >= s.MaxFailures {
		s.Disabled = true
	}
	return s.Disabled
}

// Succeed resets the consecutive failure count.
func (s *DetectionState) Succeed() {
	s.Failures = 0
}
