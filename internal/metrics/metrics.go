package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ControlRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "control_requests_total",
		Help:      "Total control-plane HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	ControlRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movie",
		Name:      "control_request_duration_seconds",
		Help:      "Control-plane HTTP request duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	InputStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "input_state_transitions_total",
		Help:      "MovieInput lifecycle transitions (start, pause, resume, cancel, finish) by outcome.",
	}, []string{"transition", "outcome"})

	PlayerStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "player_state_transitions_total",
		Help:      "MoviePlayer transport transitions by kind.",
	}, []string{"transition"})

	WriterStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "writer_state_transitions_total",
		Help:      "MovieOutput writer-state transitions by from/to state.",
	}, []string{"from", "to"})

	CacheStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "cache_state_transitions_total",
		Help:      "MovieCache state transitions by from/to state.",
	}, []string{"from", "to"})

	FramesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "frames_dropped_total",
		Help:      "Total dropped frames by component and reason.",
	}, []string{"component", "reason"})

	CacheBufferedItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "movie",
		Name:      "cache_buffered_items",
		Help:      "Number of items currently held in the pre-roll cache ring.",
	})

	CacheSpanSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "movie",
		Name:      "cache_span_seconds",
		Help:      "Oldest-to-newest timestamp span currently held by the pre-roll cache.",
	})

	PixelBufferPoolIdle = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "movie",
		Name:      "pixelbuffer_pool_idle",
		Help:      "Idle pixel buffers currently held by a pool, by pool name.",
	}, []string{"pool"})

	PixelBufferPoolTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "movie",
		Name:      "pixelbuffer_pool_total",
		Help:      "Total pixel buffers (idle + in use) tracked by a pool, by pool name.",
	}, []string{"pool"})

	EncodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "movie",
		Name:      "encode_duration_seconds",
		Help:      "Wall-clock duration of a recording session from start to FinishRecording completing.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	RecordingsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "recordings_started_total",
		Help:      "Total number of recording sessions started.",
	})

	RecordingsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "movie",
		Name:      "recordings_failed_total",
		Help:      "Total number of recording sessions that finished with a non-nil error.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ControlRequestsTotal,
		ControlRequestDuration,
		InputStateTransitionsTotal,
		PlayerStateTransitionsTotal,
		WriterStateTransitionsTotal,
		CacheStateTransitionsTotal,
		FramesDroppedTotal,
		CacheBufferedItems,
		CacheSpanSeconds,
		PixelBufferPoolIdle,
		PixelBufferPoolTotal,
		EncodeDuration,
		RecordingsStartedTotal,
		RecordingsFailedTotal,
	)
}
