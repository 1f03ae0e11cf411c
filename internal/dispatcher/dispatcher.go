// Package dispatcher implements the outbox dispatcher: a long-running
// loop, independent of request handlers, that drains the outbox table and
// delivers each event to the integration target over signed HTTP.
//
// Delivery happens outside of any database transaction; every status
// update below is its own row-level write, so a crash mid-batch leaves
// events pending and they are simply picked up again (at-least-once).
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/baechuer/fcfs-booking/internal/metrics"
	"github.com/baechuer/fcfs-booking/internal/signing"
	"github.com/rs/zerolog"
)

// RetrySchedule is the fixed delay ladder between attempts: the k-th
// failed delivery reschedules the event RetrySchedule[min(k-1, len-1)]
// into the future.
var RetrySchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	21600 * time.Second,
}

// inFlightWindow is how far ClaimBatch pushes next_attempt_at before the
// HTTP attempt, so a sibling dispatcher polling meanwhile does not pick
// the same rows up. Double delivery stays bounded, not eliminated.
const inFlightWindow = 30 * time.Second

// Store is the outbox persistence the dispatcher drives. Implemented by
// postgres.OutboxStore.
type Store interface {
	// ClaimBatch selects up to batchSize deliverable events (oldest
	// first), pushes their next_attempt_at by inFlight to mark them
	// in-flight, and returns them.
	ClaimBatch(ctx context.Context, batchSize, maxRetries int, inFlight time.Duration) ([]domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
	// Reschedule records a retryable failure: bumps retry_count and sets
	// the next attempt time.
	Reschedule(ctx context.Context, id int64, retryCount int, nextAttemptAt time.Time, lastErr string) error
	// Park moves the event to status=failed; it stays there until an
	// operator requeues it.
	Park(ctx context.Context, id int64, retryCount int, lastErr string) error
}

type Config struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	TargetURL    string
	Secret       string
	HTTPTimeout  time.Duration
}

type Dispatcher struct {
	store  Store
	cfg    Config
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time
}

func New(store Store, cfg Config, log zerolog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = len(RetrySchedule)
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	return &Dispatcher{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		log:    log.With().Str("component", "outbox_dispatcher").Logger(),
		now:    time.Now,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr string
	var lastAt time.Time

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil {
				if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
					d.log.Warn().Err(err).Msg("outbox batch failed")
					lastErr = err.Error()
					lastAt = time.Now()
				}
			} else {
				lastErr = ""
			}
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	events, err := d.store.ClaimBatch(ctx, d.cfg.BatchSize, d.cfg.MaxRetries, inFlightWindow)
	if err != nil {
		return err
	}

	for _, ev := range events {
		d.attempt(ctx, ev)
	}
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, ev domain.OutboxEvent) {
	start := d.now()
	status, body, err := d.deliver(ctx, ev)
	elapsed := d.now().Sub(start)

	switch {
	case err == nil && status >= 200 && status < 300:
		if err := d.store.MarkSent(ctx, ev.ID); err != nil {
			d.log.Error().Err(err).Int64("outbox_id", ev.ID).Msg("mark sent failed")
			return
		}
		metrics.RecordOutboxDelivery("sent", elapsed)
		d.log.Info().
			Int64("outbox_id", ev.ID).
			Str("event_id", ev.EventID).
			Str("event_name", ev.EventName).
			Int("attempt", ev.RetryCount+1).
			Msg("delivered")

	case err == nil && nonRetryable(status):
		// The receiver rejected the request as malformed; retrying the
		// same bytes cannot succeed. Park immediately with the response
		// body captured for the operator.
		r := d.cfg.MaxRetries
		msg := fmt.Sprintf("HTTP %d: %s", status, truncate(body, 2000))
		if err := d.store.Park(ctx, ev.ID, r, msg); err != nil {
			d.log.Error().Err(err).Int64("outbox_id", ev.ID).Msg("park failed")
			return
		}
		metrics.RecordOutboxDelivery("parked", elapsed)
		d.log.Error().
			Int64("outbox_id", ev.ID).
			Str("event_id", ev.EventID).
			Int("status", status).
			Msg("non-retryable response; event parked")

	default:
		msg := ""
		if err != nil {
			msg = err.Error()
		} else {
			msg = fmt.Sprintf("HTTP %d: %s", status, truncate(body, 2000))
		}
		d.fail(ctx, ev, elapsed, msg)
	}
}

func (d *Dispatcher) fail(ctx context.Context, ev domain.OutboxEvent, elapsed time.Duration, msg string) {
	r := ev.RetryCount + 1
	if r >= d.cfg.MaxRetries {
		if err := d.store.Park(ctx, ev.ID, r, msg); err != nil {
			d.log.Error().Err(err).Int64("outbox_id", ev.ID).Msg("park failed")
			return
		}
		metrics.RecordOutboxDelivery("parked", elapsed)
		d.log.Error().
			Int64("outbox_id", ev.ID).
			Str("event_id", ev.EventID).
			Int("attempt", r).
			Msg("retries exhausted; event parked")
		return
	}

	delay := RetryDelay(r)
	next := d.now().Add(delay)
	if err := d.store.Reschedule(ctx, ev.ID, r, next, msg); err != nil {
		d.log.Error().Err(err).Int64("outbox_id", ev.ID).Msg("reschedule failed")
		return
	}
	metrics.RecordOutboxDelivery("retryable", elapsed)
	d.log.Warn().
		Int64("outbox_id", ev.ID).
		Str("event_id", ev.EventID).
		Int("attempt", r).
		Dur("retry_in", delay).
		Str("error", msg).
		Msg("delivery failed; scheduled retry")
}

// RetryDelay returns the delay applied after the attempt-th failed
// delivery (attempt starts at 1). Past the end of the schedule the last
// delay repeats.
func RetryDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(RetrySchedule) {
		idx = len(RetrySchedule) - 1
	}
	return RetrySchedule[idx]
}

// deliver POSTs the event payload to the target with the signing headers.
// It returns the HTTP status and (truncated by the caller) response body,
// or a transport error; transport errors are always retryable.
func (d *Dispatcher) deliver(ctx context.Context, ev domain.OutboxEvent) (int, string, error) {
	ts := d.now().UTC().Unix()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.TargetURL, bytes.NewReader(ev.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", ev.EventID)
	req.Header.Set("X-Event-Name", ev.EventName)
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Signature", signing.Sign([]byte(d.cfg.Secret), ev.Payload, ts))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, string(body), nil
}

// nonRetryable reports whether an HTTP status indicates a caller-caused
// failure that no amount of retrying can fix. 408 and 429 are explicitly
// retryable despite being 4xx.
func nonRetryable(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
