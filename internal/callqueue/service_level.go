package callqueue

// ServiceLevel is the share of calls answered within the threshold
type ServiceLevel struct {
	Target        int     `json:"target"`
	ThresholdSecs int     `json:"thresholdSecs"`
	AnsweredInSL  int     `json:"answeredInSL"`
	TotalAnswered int     `json:"totalAnswered"`
	CurrentSL     float64 `json:"currentSL"`
}

// SLTracker tracks how quickly incoming calls are accepted
type SLTracker struct {
	Target        int // target percentage (e.g., 80)
	ThresholdSecs int // threshold in seconds (e.g., 20)
	AnsweredInSL  int
	TotalAnswered int
}

// NewSLTracker creates a new SL tracker with the given target
func NewSLTracker(target, thresholdSecs int) *SLTracker {
	return &SLTracker{
		Target:        target,
		ThresholdSecs: thresholdSecs,
	}
}

// RecordAnswer records a call being accepted after waitTimeSecs of ringing
func (s *SLTracker) RecordAnswer(waitTimeSecs float64) {
	s.TotalAnswered++
	if waitTimeSecs <= float64(s.ThresholdSecs) {
		s.AnsweredInSL++
	}
}

// CurrentSL returns the current service level percentage
func (s *SLTracker) CurrentSL() float64 {
	if s.TotalAnswered == 0 {
		return 100.0
	}
	return float64(s.AnsweredInSL) / float64(s.TotalAnswered) * 100.0
}

// Snapshot returns a ServiceLevel snapshot
func (s *SLTracker) Snapshot() ServiceLevel {
	return ServiceLevel{
		Target:        s.Target,
		ThresholdSecs: s.ThresholdSecs,
		AnsweredInSL:  s.AnsweredInSL,
		TotalAnswered: s.TotalAnswered,
		CurrentSL:     s.CurrentSL(),
	}
}
