package ports

import "moviepipeline/internal/domain"

// SynchronizedWriter is the narrow slice of MovieOutput's readiness
// surface MovieInput needs when it is paced by writer back-pressure
// instead of the wall clock. Kept separate from ContainerWriter so
// internal/input does not need to import internal/output's concrete
// type.
type SynchronizedWriter interface {
	IsReadyForMoreMediaData(kind domain.MediaKind) bool
	// OnReadinessChanged registers a callback fired whenever readiness for
	// any input may have changed, the observer MovieInput's reading loop
	// uses to flip its readingShouldWait condition.
	OnReadinessChanged(func())
	// MarkSourceFinished tells the writer its upstream reader hit end of
	// stream. The writer reads the flag at its next processing turn and
	// stops waiting for further media on either input.
	MarkSourceFinished()
}
