package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"stableflow/internal/core/domain"
	"stableflow/internal/core/ports"
	"stableflow/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var _ ports.EventSink = (*WebhookNotifier)(nil)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func okResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: http.NoBody}
}

func testEvent() *domain.SettlementEvent {
	item := domain.WorkItem{
		TransactionID: uuid.New(),
		Kind:          domain.TransactionKindTransfer,
		Source:        "alice",
		Destination:   "bob",
		Currency:      "USDT",
		Amount:        dec("50"),
		Fee:           dec("0.05"),
	}
	return domain.NewSettlementEvent(item, domain.TransactionStatusCompleted, nil, "", time.Now().UTC())
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook delivery timed out")
	}
}

func TestWebhookNotifier_Publish_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockWebhookRepository(ctrl)
	mockSigSvc := mocks.NewMockSignatureService(ctrl)

	var captured *http.Request
	var capturedBody []byte
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			captured = req
			capturedBody, _ = io.ReadAll(req.Body)
			return okResponse(200), nil
		},
	}

	n := NewWebhookNotifier("https://collab.example.com/hook", "secret-key", mockRepo, mockSigSvc, httpClient, newTestLogger())
	event := testEvent()

	done := make(chan struct{})
	mockSigSvc.EXPECT().Sign("secret-key", gomock.Any()).Return("signature-hash")
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.WebhookDeliveryLog) error {
			assert.Equal(t, domain.WebhookStatusPending, d.Status)
			assert.Equal(t, event.ID, d.EventID)
			return nil
		})
	mockRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.WebhookDeliveryLog) error {
			assert.Equal(t, domain.WebhookStatusDelivered, d.Status)
			assert.Equal(t, 1, d.Attempt)
			require.NotNil(t, d.HTTPStatus)
			assert.Equal(t, 200, *d.HTTPStatus)
			close(done)
			return nil
		})

	require.NoError(t, n.Publish(context.Background(), event))
	waitFor(t, done)
	n.Close()

	require.NotNil(t, captured)
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))
	assert.Equal(t, "signature-hash", captured.Header.Get(SignatureHeader))

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(capturedBody, &payload))
	assert.Equal(t, "settlement.completed", payload.EventType)
	assert.Equal(t, event.TransactionID, payload.Data.TransactionID)
	assert.Equal(t, "signature-hash", payload.Signature)
}

func TestWebhookNotifier_RetriesThenFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockWebhookRepository(ctrl)
	mockSigSvc := mocks.NewMockSignatureService(ctrl)

	var calls int32
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return okResponse(http.StatusBadGateway), nil
		},
	}

	n := NewWebhookNotifier("https://collab.example.com/hook", "k", mockRepo, mockSigSvc, httpClient, newTestLogger())
	n.intervals = []time.Duration{time.Millisecond, time.Millisecond}

	done := make(chan struct{})
	mockSigSvc.EXPECT().Sign("k", gomock.Any()).Return("sig")
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	mockRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.WebhookDeliveryLog) error {
			assert.Equal(t, domain.WebhookStatusPending, d.Status)
			assert.NotNil(t, d.NextRetryAt)
			return nil
		}).Times(2)
	mockRepo.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, d *domain.WebhookDeliveryLog) error {
			assert.Equal(t, domain.WebhookStatusFailed, d.Status)
			assert.Equal(t, 3, d.Attempt)
			assert.Nil(t, d.NextRetryAt)
			require.NotNil(t, d.LastError)
			assert.Contains(t, *d.LastError, "502")
			close(done)
			return nil
		})

	require.NoError(t, n.Publish(context.Background(), testEvent()))
	waitFor(t, done)
	n.Close()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookNotifier_RecoversAfterTransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSigSvc := mocks.NewMockSignatureService(ctrl)

	var calls int32
	delivered := make(chan struct{})
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, errors.New("connection refused")
			}
			close(delivered)
			return okResponse(204), nil
		},
	}

	n := NewWebhookNotifier("https://collab.example.com/hook", "k", nil, mockSigSvc, httpClient, newTestLogger())
	n.intervals = []time.Duration{time.Millisecond}
	mockSigSvc.EXPECT().Sign("k", gomock.Any()).Return("sig")

	require.NoError(t, n.Publish(context.Background(), testEvent()))
	waitFor(t, delivered)
	n.Close()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookNotifier_CloseAbandonsPendingRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSigSvc := mocks.NewMockSignatureService(ctrl)

	attempted := make(chan struct{}, 1)
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			attempted <- struct{}{}
			return okResponse(500), nil
		},
	}

	n := NewWebhookNotifier("https://collab.example.com/hook", "k", nil, mockSigSvc, httpClient, newTestLogger())
	n.intervals = []time.Duration{time.Hour}
	mockSigSvc.EXPECT().Sign("k", gomock.Any()).Return("sig")

	require.NoError(t, n.Publish(context.Background(), testEvent()))
	waitFor(t, attempted)

	closed := make(chan struct{})
	go func() {
		n.Close()
		close(closed)
	}()
	waitFor(t, closed)
}
