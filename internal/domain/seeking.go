package domain

// SeekingInfo is a value record describing one pending seek request. Two
// are equal iff all four fields match; equality, not pointer identity,
// decides whether a newly-requested seek supersedes one already stored as
// "next".
type SeekingInfo struct {
	TargetTime          Timestamp
	ToleranceBefore     Timestamp
	ToleranceAfter      Timestamp
	ShouldPlayAfterSeek bool
}

func (s SeekingInfo) Equal(o SeekingInfo) bool {
	return s.TargetTime.Equal(o.TargetTime) &&
		s.ToleranceBefore.Equal(o.ToleranceBefore) &&
		s.ToleranceAfter.Equal(o.ToleranceAfter) &&
		s.ShouldPlayAfterSeek == o.ShouldPlayAfterSeek
}
