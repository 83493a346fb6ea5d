package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telemedsync/internal/adapters/memory"
	"github.com/zatekoja/telemedsync/internal/api/handlers"
	"github.com/zatekoja/telemedsync/internal/application/services"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// MockSyncTrigger mocks the scheduler's provider trigger
type MockSyncTrigger struct {
	mock.Mock
}

func (m *MockSyncTrigger) TriggerProviderSync(ctx context.Context, providerID string) (string, error) {
	args := m.Called(ctx, providerID)
	return args.String(0), args.Error(1)
}

type webhookFixture struct {
	mux           *http.ServeMux
	consultations *memory.ConsultationStore
	prescriptions *memory.PrescriptionStore
	trigger       *MockSyncTrigger
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		consultations: memory.NewConsultationStore(),
		prescriptions: memory.NewPrescriptionStore(),
		trigger:       new(MockSyncTrigger),
	}
	providers := memory.NewProviderStore(&entities.Provider{
		ID:       "prov-1",
		Name:     "Partner One",
		APIURL:   "http://partner.test",
		IsActive: true,
	})
	ingestor := services.NewRecordIngestor(f.consultations, f.prescriptions, memory.NewMedicalRecordStore())
	h := handlers.NewTelemedWebhookHandler(providers, ingestor, f.trigger)

	f.mux = http.NewServeMux()
	f.mux.HandleFunc("POST /webhooks/telemed/{providerId}", h.HandleEvent)
	f.mux.HandleFunc("POST /webhooks/partner/{providerId}/sync", h.RequestSync)
	return f
}

func (f *webhookFixture) post(t *testing.T, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestTelemedWebhookHandler_UpsertsConsultation(t *testing.T) {
	f := newWebhookFixture(t)
	event := map[string]interface{}{
		"event": handlers.EventConsultationUpserted,
		"data":  map[string]interface{}{"id": "c-1", "patientId": "pat-1", "status": "completed"},
	}

	w := f.post(t, "/webhooks/telemed/prov-1", event)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "processed", body["status"])
	assert.Equal(t, true, body["created"])

	stored, err := f.consultations.GetByExternalID(context.Background(), "prov-1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "pat-1", stored.PatientExternalID)

	// redelivery updates in place
	w = f.post(t, "/webhooks/telemed/prov-1", event)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["created"])
}

func TestTelemedWebhookHandler_PrescriptionLinking(t *testing.T) {
	f := newWebhookFixture(t)
	rx := map[string]interface{}{
		"event": handlers.EventPrescriptionUpserted,
		"data": map[string]interface{}{
			"id":             "rx-1",
			"consultationId": "c-1",
			"patientId":      "pat-1",
			"medications":    []map[string]string{{"name": "ibuprofen", "dosage": "400mg"}},
		},
	}

	w := f.post(t, "/webhooks/telemed/prov-1", rx)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	_, err := f.prescriptions.GetByExternalID(context.Background(), "prov-1", "rx-1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound), "dangling prescription must not be stored")

	f.post(t, "/webhooks/telemed/prov-1", map[string]interface{}{
		"event": handlers.EventConsultationUpserted,
		"data":  map[string]interface{}{"id": "c-1", "patientId": "pat-1", "status": "completed"},
	})

	w = f.post(t, "/webhooks/telemed/prov-1", rx)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored, err := f.prescriptions.GetByExternalID(context.Background(), "prov-1", "rx-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ConsultationID)
}

func TestTelemedWebhookHandler_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		payload    interface{}
		wantStatus int
		wantBody   string
	}{
		{
			name:       "unknown provider",
			path:       "/webhooks/telemed/prov-404",
			payload:    map[string]interface{}{"event": handlers.EventConsultationUpserted},
			wantStatus: http.StatusBadRequest,
			wantBody:   "unknown provider",
		},
		{
			name:       "invalid record",
			path:       "/webhooks/telemed/prov-1",
			payload:    map[string]interface{}{"event": handlers.EventConsultationUpserted, "data": map[string]string{"id": "c-2"}},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "missing data",
			path:       "/webhooks/telemed/prov-1",
			payload:    map[string]interface{}{"event": handlers.EventMedicalRecordUpserted},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "payload is not an object",
			path:       "/webhooks/telemed/prov-1",
			payload:    []string{"a"},
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid event payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t)
			w := f.post(t, tt.path, tt.payload)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, decodeBody(t, w)["error"])
			}
		})
	}
}

func TestTelemedWebhookHandler_IgnoresUnknownEvents(t *testing.T) {
	f := newWebhookFixture(t)
	w := f.post(t, "/webhooks/telemed/prov-1", map[string]interface{}{"event": "patient.deleted", "data": map[string]string{}})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decodeBody(t, w)["status"])
}

func TestTelemedWebhookHandler_RequestSync(t *testing.T) {
	t.Run("queues a provider sync", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.trigger.On("TriggerProviderSync", mock.Anything, "prov-1").Return("job-1", nil)

		w := f.post(t, "/webhooks/partner/prov-1/sync", map[string]string{})

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "job-1", decodeBody(t, w)["jobId"])
		f.trigger.AssertExpectations(t)
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.trigger.On("TriggerProviderSync", mock.Anything, "prov-9").Return("", apperrors.NewNotFoundError("provider not found"))

		w := f.post(t, "/webhooks/partner/prov-9/sync", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("scheduler stopped", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.trigger.On("TriggerProviderSync", mock.Anything, "prov-1").Return("", services.ErrSchedulerNotRunning)

		w := f.post(t, "/webhooks/partner/prov-1/sync", map[string]string{})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
