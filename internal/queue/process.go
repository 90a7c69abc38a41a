package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/dedupe"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

// ErrPermanent marks a job that fails the same way on every attempt.
var ErrPermanent = errors.New("permanent job failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Ingester interface {
	Ingest(ctx context.Context, batch dedupe.IngestBatch) (dedupe.IngestReport, error)
}

type ReportValidator interface {
	Validate(ctx context.Context, namespace string) (*validate.Report, error)
}

// Processor runs the jobs of every work queue.
type Processor struct {
	ingester  Ingester
	validator ReportValidator
	locker    leaselock.Locker
	publisher Publisher
	leaseTTL  time.Duration
}

type NewProcessorParams struct {
	Ingester  Ingester
	Validator ReportValidator
	Locker    leaselock.Locker
	// Publisher enqueues follow-up validation jobs. Without it a requested
	// validation runs inline after the ingestion.
	Publisher Publisher
	LeaseTTL  time.Duration
}

func NewProcessor(params NewProcessorParams) *Processor {
	locker := params.Locker
	if locker == nil {
		locker = leaselock.NewLocal()
	}
	ttl := params.LeaseTTL
	if ttl <= 0 {
		ttl = leaselock.DefaultTTL
	}
	return &Processor{
		ingester:  params.Ingester,
		validator: params.Validator,
		locker:    locker,
		publisher: params.Publisher,
		leaseTTL:  ttl,
	}
}

// Handle dispatches body to the processor of queueName.
func (p *Processor) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		return p.ProcessIngest(ctx, body)
	case ValidateQueue:
		return p.ProcessValidate(ctx, body)
	}
	return permanent(fmt.Errorf("unknown queue %q", queueName))
}

// ProcessIngest writes one batch while holding the namespace's ingest lease,
// so concurrent workers never deduplicate the same namespace at once.
func (p *Processor) ProcessIngest(ctx context.Context, body []byte) error {
	var job IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return permanent(fmt.Errorf("failed to decode ingest job: %w", err))
	}
	ns := strings.TrimSpace(job.Batch.Namespace)
	if ns == "" {
		return permanent(errors.New("ingest job without namespace"))
	}

	var report dedupe.IngestReport
	err := p.locker.WithLease(ctx, leaselock.IngestKey(ns), leaselock.Options{TTL: p.leaseTTL, Wait: true},
		func(ctx context.Context) error {
			var err error
			report, err = p.ingester.Ingest(ctx, job.Batch)
			return err
		})
	if errors.Is(err, common.ErrProvenanceViolation) {
		return permanent(err)
	}
	if err != nil {
		return fmt.Errorf("failed to ingest batch %s: %w", job.ID, err)
	}
	logger.Info("[Queue] Batch ingested", "job_id", job.ID, "namespace", ns,
		"chunks", report.Chunks, "entities", report.Entities, "redirects", report.Redirects,
		"relationships", report.Relationships, "rejected_relationships", report.RejectedRelationships,
		"rejected_mentions", report.RejectedMentions)

	if !job.Validate {
		return nil
	}
	if p.publisher == nil {
		return p.validate(ctx, ns, job.CorrelationID)
	}
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	next := ValidateJob{ID: id, CorrelationID: job.CorrelationID, Namespace: ns}
	if err := PublishJSON(ctx, p.publisher, ValidateQueue, job.CorrelationID, next); err != nil {
		// the batch is written; a lost validation job is only logged
		logger.Error("[Queue] Failed to enqueue validation", "namespace", ns, "err", err)
	}
	return nil
}

// ProcessValidate produces a consistency report. A run already in progress
// for the namespace makes the job a no-op.
func (p *Processor) ProcessValidate(ctx context.Context, body []byte) error {
	var job ValidateJob
	if err := json.Unmarshal(body, &job); err != nil {
		return permanent(fmt.Errorf("failed to decode validate job: %w", err))
	}
	ns := strings.TrimSpace(job.Namespace)
	if ns == "" {
		return permanent(errors.New("validate job without namespace"))
	}
	return p.validate(ctx, ns, job.CorrelationID)
}

func (p *Processor) validate(ctx context.Context, ns, correlationID string) error {
	if p.validator == nil {
		return permanent(errors.New("no validator configured"))
	}
	err := p.locker.WithLease(ctx, leaselock.ValidateKey(ns), leaselock.Options{TTL: p.leaseTTL},
		func(ctx context.Context) error {
			report, err := p.validator.Validate(ctx, ns)
			if err != nil {
				return err
			}
			if rerr := report.Err(); rerr != nil {
				logger.Warn("[Queue] Namespace stores drifted", "namespace", ns,
					"correlation_id", correlationID, "err", rerr)
			}
			return nil
		})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Debug("[Queue] Validation already running", "namespace", ns)
		return nil
	}
	return err
}
