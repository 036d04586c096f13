package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// Reprocessor replays a parked payload against the ingestion pipeline.
type Reprocessor interface {
	Reprocess(ctx context.Context, e *IngestError) error
}

// ReprocessorFunc adapts a function to the Reprocessor interface.
type ReprocessorFunc func(ctx context.Context, e *IngestError) error

func (f ReprocessorFunc) Reprocess(ctx context.Context, e *IngestError) error {
	return f(ctx, e)
}

type Service struct {
	errors      Repository
	reprocessor Reprocessor
	logger      zerolog.Logger
}

func NewService(errors Repository, reprocessor Reprocessor, logger zerolog.Logger) *Service {
	return &Service{errors: errors, reprocessor: reprocessor, logger: logger}
}

// Enqueue parks a failed payload for retry, first attempt one base delay
// from now.
func (s *Service) Enqueue(ctx context.Context, patientID uuid.UUID, orderID *uuid.UUID, payload []byte, cause error) (*IngestError, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if len(payload) == 0 {
		return nil, apperr.Validation("payload is required")
	}

	next := time.Now().UTC().Add(baseRetryDelay)
	e := &IngestError{
		PatientID:   patientID,
		OrderID:     orderID,
		Payload:     payload,
		RetryCount:  0,
		Status:      StatusPending,
		NextRetryAt: &next,
	}
	if cause != nil {
		e.ErrorMessage = cause.Error()
	}
	if err := s.errors.Create(ctx, e); err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info().
		Str("ingest_error_id", e.ID.String()).
		Str("patient_id", patientID.String()).
		Time("next_retry_at", next).
		Msg("ingest payload parked for retry")
	return e, nil
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}

// Sweep reprocesses up to batchSize due rows. Each row is handled in
// isolation: one bad payload cannot take down the batch, and a crash
// mid-sweep leaves the remaining rows due for the next pass.
func (s *Service) Sweep(ctx context.Context, batchSize int) (SweepResult, error) {
	var res SweepResult
	if batchSize <= 0 {
		return res, apperr.Validation("batch size must be positive")
	}

	now := time.Now().UTC()
	eligible, err := s.errors.ListEligible(ctx, now, batchSize)
	if err != nil {
		return res, apperr.Internal(err)
	}

	for _, e := range eligible {
		res.Attempted++
		if s.retryOne(ctx, e) {
			res.Resolved++
		} else {
			res.Failed++
		}
	}
	return res, nil
}

// retryOne runs a single attempt and persists the outcome. Reports whether
// the row resolved.
func (s *Service) retryOne(ctx context.Context, e *IngestError) bool {
	now := time.Now().UTC()
	e.Status = StatusRetrying
	e.LastTriedAt = &now
	if err := s.errors.Update(ctx, e); err != nil {
		s.logger.Error().Err(err).Str("ingest_error_id", e.ID.String()).Msg("mark retrying failed")
		return false
	}

	err := s.reprocessor.Reprocess(ctx, e)
	if err == nil {
		e.Status = StatusResolved
		e.NextRetryAt = nil
		if uerr := s.errors.Update(ctx, e); uerr != nil {
			s.logger.Error().Err(uerr).Str("ingest_error_id", e.ID.String()).Msg("mark resolved failed")
			return false
		}
		return true
	}

	e.RetryCount++
	e.Status = StatusFailed
	e.ErrorMessage = err.Error()
	next := now.Add(backoffDelay(e.RetryCount))
	e.NextRetryAt = &next
	if uerr := s.errors.Update(ctx, e); uerr != nil {
		s.logger.Error().Err(uerr).Str("ingest_error_id", e.ID.String()).Msg("record retry failure failed")
	}
	s.logger.Warn().Err(err).
		Str("ingest_error_id", e.ID.String()).
		Int("retry_count", e.RetryCount).
		Time("next_retry_at", next).
		Msg("reprocess attempt failed")
	return false
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*IngestError, int, error) {
	if status != "" {
		switch status {
		case StatusPending, StatusRetrying, StatusResolved, StatusFailed:
		default:
			return nil, 0, apperr.Validation("invalid status: " + status)
		}
	}
	items, total, err := s.errors.List(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}
