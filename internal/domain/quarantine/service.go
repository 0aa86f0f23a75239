package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"courseguard/internal/domain/admission"
	"courseguard/internal/pkg/logger"
	"courseguard/internal/pkg/metrics"
)

// Decision is a reviewer's verb on a held record.
const (
	DecisionApprove  = "approve"
	DecisionReject   = "reject"
	DecisionEscalate = "escalate"
)

const (
	ActorPipeline = "pipeline"
	ActorSystem   = "system"
)

// ObjectStore releases approved bytes into public storage. Implemented by
// the storage gateway.
type ObjectStore interface {
	Store(ctx context.Context, data []byte, contextTag, mediaType string) (string, error)
}

// Notifier pushes lifecycle events to connected reviewers.
type Notifier interface {
	Broadcast(event *Event)
}

// Service coordinates the quarantine lifecycle: hold on behalf of the
// admission pipeline, decide on behalf of reviewers, sweep on behalf of
// the deadline. Every transition goes through the state graph and a
// compare-and-set, so two concurrent reviewers can never both win.
type Service struct {
	repo     Repository
	spool    *Spool
	store    ObjectStore
	notifier Notifier
	log      *logger.Logger
	metrics  metrics.Metrics
	deadline time.Duration
}

func NewService(
	repo Repository,
	spool *Spool,
	store ObjectStore,
	notifier Notifier,
	log *logger.Logger,
	m metrics.Metrics,
	reviewDeadline time.Duration,
) *Service {
	return &Service{
		repo:     repo,
		spool:    spool,
		store:    store,
		notifier: notifier,
		log:      log,
		metrics:  m,
		deadline: reviewDeadline,
	}
}

// Hold retains a suspicious artifact for review and returns the record
// id. Bytes go to the spool first; a record without its bytes is useless,
// the reverse is just an orphaned spool file.
func (s *Service) Hold(ctx context.Context, h admission.HeldArtifact) (string, error) {
	spoolName, err := s.spool.Put(h.Data)
	if err != nil {
		return "", fmt.Errorf("spooling quarantined bytes: %w", err)
	}

	reasons, _ := json.Marshal(h.Reasons)
	now := time.Now().UTC()
	rec := &Record{
		ID:         uuid.New().String(),
		Context:    string(h.Context),
		UploaderID: h.UploaderID,
		Filename:   h.Filename,
		MediaType:  h.MediaType,
		RiskScore:  h.RiskScore,
		Reasons:    string(reasons),
		SpoolName:  spoolName,
		State:      string(StatePending),
		Deadline:   now.Add(s.deadline),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if rmErr := s.spool.Remove(spoolName); rmErr != nil {
			s.log.Warn("spool cleanup failed after record create failure", "spool_name", spoolName, "error", rmErr)
		}
		return "", fmt.Errorf("creating quarantine record: %w", err)
	}

	s.audit(ctx, rec.ID, ActorPipeline, "held", "", StatePending)
	s.broadcast(&Event{
		Type:      EventHeld,
		RecordID:  rec.ID,
		Context:   rec.Context,
		State:     rec.State,
		RiskScore: rec.RiskScore,
	})
	s.refreshPendingGauge(ctx)

	s.log.Info("artifact held for review",
		"record_id", rec.ID,
		"context", rec.Context,
		"risk_score", rec.RiskScore,
		"deadline", rec.Deadline,
	)
	return rec.ID, nil
}

// ListReviewable returns records awaiting a decision, oldest first,
// optionally filtered by upload context.
func (s *Service) ListReviewable(ctx context.Context, contextFilter string) ([]*Record, error) {
	pending, err := s.repo.ListByState(ctx, StatePending, contextFilter)
	if err != nil {
		return nil, err
	}
	escalated, err := s.repo.ListByState(ctx, StateEscalated, contextFilter)
	if err != nil {
		return nil, err
	}
	return append(pending, escalated...), nil
}

// Get returns one record by id.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

// AuditTrail returns the record's append-only history, oldest first.
func (s *Service) AuditTrail(ctx context.Context, recordID string) ([]*AuditEntry, error) {
	if _, err := s.repo.GetByID(ctx, recordID); err != nil {
		return nil, err
	}
	return s.repo.AuditTrail(ctx, recordID)
}

// Decide applies a reviewer decision. expectedState is what the reviewer
// saw when they decided; if the record moved underneath them the call
// fails with ErrConflict and nothing changes. Approval releases the bytes
// into public storage, rejection purges them, in the same call.
func (s *Service) Decide(ctx context.Context, recordID, actor, decision string, expectedState State) (*Record, error) {
	var target State
	switch decision {
	case DecisionApprove:
		target = StateApproved
	case DecisionReject:
		target = StateRejected
	case DecisionEscalate:
		target = StateEscalated
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if !CanTransition(expectedState, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expectedState, target)
	}

	extra := map[string]any{}
	if target == StateEscalated {
		// Escalation buys a fresh review window.
		extra["deadline"] = time.Now().UTC().Add(s.deadline)
	}
	if err := s.repo.CompareAndSetState(ctx, recordID, expectedState, target, extra); err != nil {
		return nil, err
	}
	s.audit(ctx, recordID, actor, decision, expectedState, target)
	s.refreshPendingGauge(ctx)

	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	switch target {
	case StateApproved:
		rec, err = s.release(ctx, rec, actor)
	case StateRejected:
		rec, err = s.purge(ctx, rec, actor)
	}
	if err != nil {
		return nil, err
	}

	s.broadcast(&Event{
		Type:     EventDecided,
		RecordID: rec.ID,
		Context:  rec.Context,
		State:    rec.State,
	})
	s.log.Info("quarantine decision applied",
		"record_id", rec.ID,
		"actor", actor,
		"decision", decision,
		"state", rec.State,
	)
	return rec, nil
}

// release moves approved bytes from the spool into public storage. If the
// store fails the record stays approved and release can be retried; the
// bytes never become visible partially.
func (s *Service) release(ctx context.Context, rec *Record, actor string) (*Record, error) {
	data, err := s.spool.Read(rec.SpoolName)
	if err != nil {
		return nil, fmt.Errorf("reading spooled bytes for %s: %w", rec.ID, err)
	}
	pointer, err := s.store.Store(ctx, data, rec.Context, rec.MediaType)
	if err != nil {
		return nil, fmt.Errorf("releasing %s to storage: %w", rec.ID, err)
	}
	if err := s.repo.CompareAndSetState(ctx, rec.ID, StateApproved, StateReleased, map[string]any{
		"pointer": pointer,
	}); err != nil {
		return nil, err
	}
	s.audit(ctx, rec.ID, actor, "released", StateApproved, StateReleased)
	if err := s.spool.Remove(rec.SpoolName); err != nil {
		s.log.Warn("spool cleanup failed after release", "record_id", rec.ID, "error", err)
	}
	return s.repo.GetByID(ctx, rec.ID)
}

// purge discards rejected bytes and closes the record.
func (s *Service) purge(ctx context.Context, rec *Record, actor string) (*Record, error) {
	if err := s.repo.CompareAndSetState(ctx, rec.ID, StateRejected, StatePurged, nil); err != nil {
		return nil, err
	}
	if err := s.spool.Remove(rec.SpoolName); err != nil {
		s.log.Warn("spool cleanup failed after purge", "record_id", rec.ID, "error", err)
	}
	s.audit(ctx, rec.ID, actor, "purged", StateRejected, StatePurged)
	return s.repo.GetByID(ctx, rec.ID)
}

// SweepExpired auto-rejects every record whose review deadline passed
// without a decision. Records that a reviewer grabs mid-sweep are skipped;
// they lost nothing. Returns how many records were closed.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, rec := range expired {
		from := State(rec.State)
		if err := s.repo.CompareAndSetState(ctx, rec.ID, from, StateRejected, nil); err != nil {
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrRecordNotFound) {
				continue
			}
			return swept, err
		}
		s.audit(ctx, rec.ID, ActorSystem, "auto_reject_deadline", from, StateRejected)
		if _, err := s.purge(ctx, rec, ActorSystem); err != nil {
			return swept, err
		}
		s.broadcast(&Event{
			Type:     EventDecided,
			RecordID: rec.ID,
			Context:  rec.Context,
			State:    string(StatePurged),
		})
		s.log.Info("expired quarantine record auto-rejected",
			"record_id", rec.ID,
			"deadline", rec.Deadline,
		)
		swept++
	}
	s.refreshPendingGauge(ctx)
	return swept, nil
}

func (s *Service) audit(ctx context.Context, recordID, actor, action string, from, to State) {
	entry := &AuditEntry{
		RecordID:  recordID,
		Actor:     actor,
		Action:    action,
		FromState: string(from),
		ToState:   string(to),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		// The trail is best effort relative to the transition itself; a
		// lost line must not roll back a committed state change.
		s.log.Error("audit append failed", "record_id", recordID, "action", action, "error", err)
	}
}

func (s *Service) broadcast(event *Event) {
	if s.notifier != nil {
		s.notifier.Broadcast(event)
	}
}

func (s *Service) refreshPendingGauge(ctx context.Context) {
	n, err := s.repo.CountReviewable(ctx)
	if err != nil {
		return
	}
	s.metrics.SetQuarantinePending(float64(n))
}
