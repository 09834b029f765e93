// Package session persists what crosses a recording's use-case boundary:
// the outcome of each MovieOutput.FinishRecording call, and the last
// MoviePlayer play position so a restarted process can resume where it
// left off.
package session

import (
	"context"
	"log/slog"
	"time"

	"moviepipeline/internal/domain"
)

// Record is one finished (or canceled) recording session, the persisted
// shape of a MovieOutput.Result plus the bookkeeping needed to list past
// sessions.
type Record struct {
	ID               string
	OutputPath       string
	AnchorTime       float64
	RecordedDuration float64
	FinalState       domain.WriterState
	Err              string
	FinishedAt       time.Time
}

// ResumePosition is the last known MoviePlayer play time for one asset, so
// a restarted process can seek back to it instead of always starting at
// zero.
type ResumePosition struct {
	AssetID   string
	Position  float64
	UpdatedAt time.Time
}

// Repository is the persistence contract session.Manager depends on;
// repository/mongo implements it against a real database, and tests can
// supply an in-memory fake.
type Repository interface {
	SaveRecord(ctx context.Context, rec Record) error
	ListRecords(ctx context.Context, limit int) ([]Record, error)
	SaveResumePosition(ctx context.Context, rp ResumePosition) error
	GetResumePosition(ctx context.Context, assetID string) (ResumePosition, bool, error)
}

// Manager wraps a Repository, absorbing persistence failures so a dead
// database never takes playback or recording down with it.
type Manager struct {
	repo    Repository
	log     *slog.Logger
	timeout time.Duration
}

// NewManager builds a Manager. repo may be nil, in which case every method
// is a no-op: useful for running the pipeline without a database attached.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, log: slog.Default().With("component", "session"), timeout: 5 * time.Second}
}

// RecordFinished persists the outcome of one MovieOutput.FinishRecording
// call. Failures are logged, not returned: a failed persistence write must
// never unwind a recording that already completed successfully.
func (m *Manager) RecordFinished(id, outputPath string, anchor, recordedDuration float64, final domain.WriterState, recErr error) {
	if m.repo == nil {
		return
	}
	rec := Record{
		ID:               id,
		OutputPath:       outputPath,
		AnchorTime:       anchor,
		RecordedDuration: recordedDuration,
		FinalState:       final,
		FinishedAt:       time.Now(),
	}
	if recErr != nil {
		rec.Err = recErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.repo.SaveRecord(ctx, rec); err != nil {
		m.log.Warn("persist recording session failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// ListRecords returns the most recently finished recording sessions.
func (m *Manager) ListRecords(ctx context.Context, limit int) ([]Record, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.ListRecords(ctx, limit)
}

// SaveResumePosition persists where MoviePlayer currently is for assetID.
// Failures are logged: a settings write must never block playback.
func (m *Manager) SaveResumePosition(assetID string, position float64) {
	if m.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	rp := ResumePosition{AssetID: assetID, Position: position, UpdatedAt: time.Now()}
	if err := m.repo.SaveResumePosition(ctx, rp); err != nil {
		m.log.Warn("persist resume position failed", slog.String("asset", assetID), slog.String("error", err.Error()))
	}
}

// ResumePosition returns the last saved play position for assetID, or
// (0, false) if none is on record or no repository is attached.
func (m *Manager) ResumePosition(assetID string) (float64, bool) {
	if m.repo == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	rp, ok, err := m.repo.GetResumePosition(ctx, assetID)
	if err != nil {
		m.log.Warn("load resume position failed", slog.String("asset", assetID), slog.String("error", err.Error()))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	return rp.Position, true
}
