package splitctl

// StaticSource is a fixed-ratio, always-configurable AdmissionSource.
// It stands in for the controller in tests, and as the safe default an
// engine can be constructed with before a real Controller has produced
// its first sample.
type StaticSource struct {
	SplitRatio uint64 // percent, 0-100
	DataAdmit  bool
}

// QueryDataAdmit returns the configured DataAdmit value.
func (s *StaticSource) QueryDataAdmit() bool { return s.DataAdmit }

// QueryOptimalSplitRatio returns the configured SplitRatio value.
func (s *StaticSource) QueryOptimalSplitRatio() uint64 { return s.SplitRatio }
