package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"courseguard/internal/config"
	"courseguard/internal/pkg/logger"
	"courseguard/internal/pkg/metrics"
)

// ObjectStore persists accepted bytes and hands back an opaque pointer.
// Implemented by the storage gateway.
type ObjectStore interface {
	Store(ctx context.Context, data []byte, contextTag, mediaType string) (string, error)
}

// Holder retains a suspicious artifact for human review and returns the
// quarantine record id. Implemented by the quarantine coordinator.
type Holder interface {
	Hold(ctx context.Context, h HeldArtifact) (string, error)
}

// HeldArtifact is what the quarantine coordinator needs to retain an
// artifact pending review.
type HeldArtifact struct {
	Data       []byte
	Filename   string
	MediaType  string
	Context    config.ContextTag
	UploaderID int64
	RiskScore  int
	Reasons    []string
}

// Result is the admission outcome handed to callers: the immutable
// verdict plus, depending on status, the storage pointer or the
// quarantine record id.
type Result struct {
	Verdict      Verdict
	Pointer      string
	QuarantineID string
}

// Pipeline runs the straight-line validation sequence for one artifact:
// classify, inspect or scrub or scan, then store or quarantine. Each
// upload validates independently; the pipeline holds no cross-artifact
// state beyond the immutable policy table.
type Pipeline struct {
	policy     *config.Policy
	classifier *Classifier
	inspector  *Inspector
	scanner    *Scanner
	scrubber   *Scrubber
	store      ObjectStore
	holder     Holder
	verdicts   Repository
	log        *logger.Logger
	metrics    metrics.Metrics
}

func NewPipeline(
	policy *config.Policy,
	store ObjectStore,
	holder Holder,
	verdicts Repository,
	log *logger.Logger,
	m metrics.Metrics,
) *Pipeline {
	classifier := NewClassifier(policy)
	scanner := NewScanner(policy.Heuristics)
	return &Pipeline{
		policy:     policy,
		classifier: classifier,
		inspector:  NewInspector(policy, classifier, scanner),
		scanner:    scanner,
		scrubber:   NewScrubber(),
		store:      store,
		holder:     holder,
		verdicts:   verdicts,
		log:        log,
		metrics:    m,
	}
}

// Admit produces exactly one verdict for the artifact. Rejections and
// quarantines are verdict values; a non-nil error means infrastructure
// failed and the caller may retry the whole admission.
func (p *Pipeline) Admit(ctx context.Context, art Artifact) (*Result, error) {
	if _, err := config.ParseContextTag(string(art.Context)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContext, art.Context)
	}

	// Cheap screens first: deny list, allow set, and size ceilings are
	// all decided from the declared name and length before any byte of
	// attacker-controlled content is read.
	cl := p.classifier.Screen(art.Filename, art.Context)
	if cl.Denied {
		return p.reject(ctx, art, ReasonExtensionDenied)
	}
	if !cl.Allowed {
		return p.reject(ctx, art, ReasonExtensionNotAllowed)
	}
	size := art.Source.Size()
	if size == 0 {
		return p.reject(ctx, art, ReasonEmptyFile)
	}
	maxSize := p.policy.MaxSizeFor(cl.Extension, art.Context)
	if size > maxSize {
		return p.reject(ctx, art, ReasonFileTooLarge)
	}

	// One bounded read; every later stage works on this buffer, so memory
	// is capped by policy, not by whatever the source claims.
	data, err := readAll(art.Source, maxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}
	if int64(len(data)) > maxSize {
		return p.reject(ctx, art, ReasonFileTooLarge)
	}

	p.classifier.Sniff(&cl, data)

	riskScore := 0
	var signals []string
	var reasons []string
	var manifest []ManifestEntry
	stored := data
	mediaType := cl.SniffedMIME

	switch {
	case cl.Rule.Archive:
		start := time.Now()
		res := p.inspector.Inspect(data, cl.Extension, 1)
		p.metrics.ObserveStage("archive_inspect", time.Since(start).Seconds())
		if !res.OK {
			return p.reject(ctx, art, res.Reason)
		}
		manifest = res.Manifest
		riskScore += res.RiskScore
		signals = append(signals, res.Signals...)

	case cl.Rule.Image:
		start := time.Now()
		scrubbed, err := p.scrubber.Scrub(data)
		p.metrics.ObserveStage("image_scrub", time.Since(start).Seconds())
		if err != nil {
			reason := ReasonImageMalformed
			if errors.Is(err, ErrImageUnsupported) {
				reason = ReasonImageUnsupported
			}
			return p.reject(ctx, art, reason)
		}
		stored = scrubbed

	case cl.Rule.DeepScan:
		start := time.Now()
		score, sigs := p.scanner.Scan(data, cl.Rule.Family)
		p.metrics.ObserveStage("heuristic_scan", time.Since(start).Seconds())
		riskScore += score
		signals = append(signals, sigs...)
	}

	if cl.Mismatch {
		riskScore += p.policy.Heuristics.SignatureMismatch
		signals = append(signals, ReasonSignatureMismatch)
	}

	if riskScore >= p.policy.Heuristics.QuarantineThreshold {
		reasons = append(reasons, ReasonHeuristicScore)
		if cl.Mismatch {
			reasons = append(reasons, ReasonSignatureMismatch)
		}
		return p.quarantine(ctx, art, cl, data, riskScore, signals, reasons)
	}

	return p.accept(ctx, art, cl, stored, mediaType, riskScore, signals, manifest)
}

func (p *Pipeline) reject(ctx context.Context, art Artifact, reason string) (*Result, error) {
	verdict := p.newVerdict(StatusRejected, []string{reason}, 0, nil)
	p.metrics.IncVerdict(string(StatusRejected), string(art.Context))
	p.metrics.IncRejectionReason(reason)
	p.log.Info("artifact rejected",
		"filename", art.Filename,
		"context", string(art.Context),
		"uploader", art.UploaderID,
		"reason", reason,
	)
	if err := p.persistVerdict(ctx, art, verdict, "", nil); err != nil {
		return nil, err
	}
	return &Result{Verdict: verdict}, nil
}

func (p *Pipeline) quarantine(ctx context.Context, art Artifact, cl Classification, data []byte, score int, signals, reasons []string) (*Result, error) {
	verdict := p.newVerdict(StatusQuarantined, reasons, score, signals)
	recordID, err := p.holder.Hold(ctx, HeldArtifact{
		Data:       data,
		Filename:   art.Filename,
		MediaType:  cl.SniffedMIME,
		Context:    art.Context,
		UploaderID: art.UploaderID,
		RiskScore:  score,
		Reasons:    reasons,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuarantineHold, err)
	}
	p.metrics.IncVerdict(string(StatusQuarantined), string(art.Context))
	p.log.Info("artifact quarantined",
		"filename", art.Filename,
		"context", string(art.Context),
		"uploader", art.UploaderID,
		"risk_score", score,
		"record_id", recordID,
	)
	if err := p.persistVerdict(ctx, art, verdict, "", nil); err != nil {
		return nil, err
	}
	return &Result{Verdict: verdict, QuarantineID: recordID}, nil
}

func (p *Pipeline) accept(ctx context.Context, art Artifact, cl Classification, data []byte, mediaType string, score int, signals []string, manifest []ManifestEntry) (*Result, error) {
	pointer, err := p.store.Store(ctx, data, string(art.Context), mediaType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	verdict := p.newVerdict(StatusAccepted, nil, score, signals)
	p.metrics.IncVerdict(string(StatusAccepted), string(art.Context))
	p.log.Info("artifact accepted",
		"filename", art.Filename,
		"context", string(art.Context),
		"uploader", art.UploaderID,
		"pointer", pointer,
	)
	if err := p.persistVerdict(ctx, art, verdict, pointer, manifest); err != nil {
		return nil, err
	}
	return &Result{Verdict: verdict, Pointer: pointer}, nil
}

func (p *Pipeline) newVerdict(status Status, reasons []string, score int, signals []string) Verdict {
	if reasons == nil {
		reasons = []string{}
	}
	return Verdict{
		Status:        status,
		Reasons:       reasons,
		RiskScore:     score,
		Signals:       signals,
		PolicyVersion: p.policy.Version,
		CreatedAt:     time.Now().UTC(),
	}
}

func (p *Pipeline) persistVerdict(ctx context.Context, art Artifact, v Verdict, pointer string, manifest []ManifestEntry) error {
	if p.verdicts == nil {
		return nil
	}
	reasons, _ := json.Marshal(v.Reasons)
	record := &VerdictRecord{
		ID:            uuid.New().String(),
		UploaderID:    art.UploaderID,
		Context:       string(art.Context),
		Filename:      art.Filename,
		Status:        string(v.Status),
		Reasons:       string(reasons),
		RiskScore:     v.RiskScore,
		PolicyVersion: v.PolicyVersion,
		Pointer:       pointer,
		CreatedAt:     v.CreatedAt,
	}
	if len(manifest) > 0 {
		summary, _ := json.Marshal(manifest)
		record.Manifest = string(summary)
	}
	if err := p.verdicts.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to persist verdict: %w", err)
	}
	return nil
}

func readAll(src ByteSource, maxSize int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(src, maxSize+1))
}
