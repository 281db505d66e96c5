package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// webhookRetryIntervals is the wait before each re-delivery attempt.
var webhookRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// SignatureHeader carries the hex HMAC-SHA256 of the payload's data field.
const SignatureHeader = "X-Stableflow-Signature"

// WebhookPayload is the JSON body posted to the notification endpoint.
type WebhookPayload struct {
	EventType string                  `json:"event_type"`
	Data      *domain.SettlementEvent `json:"data"`
	Signature string                  `json:"signature"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookNotifier implements ports.EventSink by pushing signed settlement events to a
// single configured endpoint with retries.
type WebhookNotifier struct {
	url        string
	secret     string
	repo       ports.WebhookRepository
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	intervals  []time.Duration
	log        zerolog.Logger

	stop   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWebhookNotifier creates a notifier posting to url. repo may be nil.
func NewWebhookNotifier(
	url, secret string,
	repo ports.WebhookRepository,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	log zerolog.Logger,
) *WebhookNotifier {
	stop, cancel := context.WithCancel(context.Background())
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		repo:       repo,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		intervals:  webhookRetryIntervals,
		log:        logger.WithComponent(log, "webhook"),
		stop:       stop,
		cancel:     cancel,
	}
}

func (s *WebhookNotifier) Name() string { return "webhook" }

// Publish records the delivery and hands it to a background goroutine.
func (s *WebhookNotifier) Publish(ctx context.Context, event *domain.SettlementEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	payload := WebhookPayload{
		EventType: string(event.Type),
		Data:      event,
		Signature: s.sigSvc.Sign(s.secret, string(data)),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	now := time.Now().UTC()
	delivery := &domain.WebhookDeliveryLog{
		ID:            uuid.New(),
		EventID:       event.ID,
		TransactionID: event.TransactionID,
		WebhookURL:    s.url,
		Payload:       string(body),
		Status:        domain.WebhookStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if s.repo != nil {
		if err := s.repo.Create(ctx, delivery); err != nil {
			s.log.Warn().Err(err).Str("tx_id", event.TransactionID.String()).Msg("webhook: failed to record delivery")
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliverWithRetries(delivery, body, payload.Signature)
	}()
	return nil
}

// Close abandons pending retries and waits for in-flight attempts to finish.
func (s *WebhookNotifier) Close() {
	s.cancel()
	s.wg.Wait()
}

// deliverWithRetries attempts delivery, waiting intervals[i] before attempt i+2.
func (s *WebhookNotifier) deliverWithRetries(delivery *domain.WebhookDeliveryLog, body []byte, signature string) {
	txID := delivery.TransactionID.String()

	for attempt := 0; attempt <= len(s.intervals); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.intervals[attempt-1]):
			case <-s.stop.Done():
				s.log.Warn().Str("tx_id", txID).Int("attempt", attempt).Msg("webhook: shutting down, delivery abandoned")
				return
			}
		}
		delivery.Attempt = attempt + 1

		status, err := s.post(body, signature)
		if status != 0 {
			delivery.HTTPStatus = &status
		}
		if err == nil {
			delivery.Status = domain.WebhookStatusDelivered
			delivery.LastError = nil
			delivery.NextRetryAt = nil
			s.record(delivery)
			s.log.Info().Str("tx_id", txID).Int("attempt", attempt+1).Int("status", status).Msg("webhook: delivered successfully")
			return
		}

		msg := err.Error()
		delivery.LastError = &msg
		if attempt < len(s.intervals) {
			next := time.Now().UTC().Add(s.intervals[attempt])
			delivery.NextRetryAt = &next
		} else {
			delivery.Status = domain.WebhookStatusFailed
			delivery.NextRetryAt = nil
		}
		s.record(delivery)
		s.log.Warn().Err(err).Str("tx_id", txID).Int("attempt", attempt+1).Msg("webhook: delivery failed")
	}

	s.log.Error().Str("tx_id", txID).Msg("webhook: all retry attempts exhausted")
}

func (s *WebhookNotifier) post(body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(s.stop, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *WebhookNotifier) record(delivery *domain.WebhookDeliveryLog) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Update(ctx, delivery); err != nil {
		s.log.Warn().Err(err).Str("tx_id", delivery.TransactionID.String()).Msg("webhook: failed to update delivery log")
	}
}
