package retry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoicing-platform/internal/domain"
	"invoicing-platform/internal/domain/model"
	"invoicing-platform/internal/infra/metrics"
	"invoicing-platform/internal/usecase"
)

// Job is one deferred webhook confirmation. Attempt counts retries already
// consumed: a job enqueued with Attempt=1 is the first retry. Deferrals
// counts infra-level re-queues, which do not touch Attempt.
type Job struct {
	ID         string            `json:"id"`
	Gateway    model.GatewayName `json:"gateway"`
	GatewayRef string            `json:"gateway_ref"`
	Payload    []byte            `json:"payload"`
	Attempt    int               `json:"attempt"`
	Deferrals  int               `json:"deferrals,omitempty"`
}

// Queue is the delayed-queue surface the scheduler needs.
type Queue interface {
	EnqueueAt(ctx context.Context, member string, at time.Time) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Infra-level re-queues are short and bounded: an execution error should
// not consume one of the billing retries, but a job that keeps erroring
// has to land somewhere other than the queue.
const (
	infraBackoff = 10 * time.Second
	maxDeferrals = 10
)

// Scheduler re-drives webhook callbacks that failed with a transient error.
// Delays double from the base: 60s, 120s, 240s with the default settings,
// after which the job is dropped for manual reconciliation.
type Scheduler struct {
	queue       Queue
	uc          usecase.SubscriptionUseCase
	maxRetries  int
	backoffBase time.Duration
	interval    time.Duration
	log         *zerolog.Logger

	now func() time.Time
}

func NewScheduler(queue Queue, uc usecase.SubscriptionUseCase, maxRetries int, backoffBase time.Duration, logger *zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "RetryScheduler").Logger()
	return &Scheduler{
		queue:       queue,
		uc:          uc,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		interval:    5 * time.Second,
		log:         &l,
		now:         time.Now,
	}
}

// Schedule enqueues the next attempt for a failed callback. It returns false
// when the attempt limit is exhausted and the job was dropped.
func (s *Scheduler) Schedule(ctx context.Context, job Job) (bool, error) {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if job.Attempt > s.maxRetries {
		metrics.IncWebhookRetry("exhausted")
		s.log.Error().
			Str("gateway", string(job.Gateway)).
			Str("gateway_ref", job.GatewayRef).
			Int("attempts", s.maxRetries).
			Msg("webhook retries exhausted; dropping for manual reconciliation")
		return false, nil
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	delay := s.backoffBase << (job.Attempt - 1)
	member, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if err := s.queue.EnqueueAt(ctx, string(member), s.now().Add(delay)); err != nil {
		metrics.IncWebhookRetry("enqueue_error")
		return false, err
	}
	metrics.IncWebhookRetry("scheduled")
	s.log.Info().
		Str("gateway", string(job.Gateway)).
		Str("gateway_ref", job.GatewayRef).
		Int("attempt", job.Attempt).
		Dur("delay", delay).
		Msg("webhook retry scheduled")
	return true, nil
}

// Run polls for due jobs until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Msg("Starting retry scheduler")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping retry scheduler")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.queue.ClaimDue(ctx, s.now(), 50)
	if err != nil {
		s.log.Error().Err(err).Msg("retry claim failed")
		return
	}
	for _, member := range due {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			s.log.Error().Err(err).Msg("dropping undecodable retry job")
			continue
		}
		s.process(ctx, job)
	}
}

func (s *Scheduler) process(ctx context.Context, job Job) {
	var raw map[string]interface{}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &raw); err != nil {
			metrics.IncWebhookRetry("dropped")
			s.log.Error().Err(err).Str("gateway_ref", job.GatewayRef).Msg("retry dropped: stored payload undecodable")
			return
		}
	}
	payload := &model.CallbackPayload{
		Gateway:    job.Gateway,
		GatewayRef: job.GatewayRef,
		Raw:        raw,
		ReceivedAt: s.now(),
	}
	p, err := s.uc.ConfirmPayment(ctx, job.Gateway, payload)
	if err == nil {
		if p != nil {
			metrics.IncWebhookRetry("succeeded")
			return
		}
		// Gateway ref still matches no payment. The next try consumes one
		// of the billing retries; exhaustion drops the job inside Schedule.
		s.log.Info().
			Str("gateway_ref", job.GatewayRef).
			Int("attempt", job.Attempt).
			Msg("callback still unresolved; scheduling next attempt")
		job.Attempt++
		if _, err := s.Schedule(ctx, job); err != nil {
			s.log.Error().Err(err).Str("gateway_ref", job.GatewayRef).Msg("re-scheduling retry failed")
		}
		return
	}
	if errors.Is(err, domain.ErrMalformedCallback) || errors.Is(err, domain.ErrInvalidArgument) {
		// Retrying a payload that cannot parse will never help.
		metrics.IncWebhookRetry("dropped")
		s.log.Error().Err(err).Str("gateway_ref", job.GatewayRef).Msg("retry dropped: callback is unusable")
		return
	}

	// Execution error. Re-queue at the same attempt so an outage on our
	// side does not eat the billing retries.
	job.Deferrals++
	if job.Deferrals > maxDeferrals {
		metrics.IncWebhookRetry("exhausted")
		s.log.Error().Err(err).
			Str("gateway_ref", job.GatewayRef).
			Int("deferrals", job.Deferrals-1).
			Msg("retry dropped: too many execution failures")
		return
	}
	member, merr := json.Marshal(job)
	if merr != nil {
		s.log.Error().Err(merr).Str("gateway_ref", job.GatewayRef).Msg("re-queueing retry failed")
		return
	}
	if qerr := s.queue.EnqueueAt(ctx, string(member), s.now().Add(infraBackoff)); qerr != nil {
		metrics.IncWebhookRetry("enqueue_error")
		s.log.Error().Err(qerr).Str("gateway_ref", job.GatewayRef).Msg("re-queueing retry failed")
		return
	}
	metrics.IncWebhookRetry("deferred")
	s.log.Warn().Err(err).
		Str("gateway_ref", job.GatewayRef).
		Int("attempt", job.Attempt).
		Msg("confirm errored; job re-queued without consuming an attempt")
}
