package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/zatekoja/telemedsync/internal/api/middleware"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/clients/telemed"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// Partner push event types
const (
	EventConsultationUpserted  = "consultation.upserted"
	EventPrescriptionUpserted  = "prescription.upserted"
	EventMedicalRecordUpserted = "medical_record.upserted"
)

// WebhookEvent is the envelope partners push. Data carries one record in the
// same shape the partner API returns.
type WebhookEvent struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RecordUpserter stores partner records
type RecordUpserter interface {
	UpsertConsultation(ctx context.Context, providerID string, dto *telemed.ConsultationDTO) (bool, error)
	UpsertPrescription(ctx context.Context, providerID string, dto *telemed.PrescriptionDTO) (bool, error)
	UpsertMedicalRecord(ctx context.Context, providerID string, dto *telemed.MedicalRecordDTO) (bool, error)
}

// ProviderLookup resolves the provider named in a webhook path
type ProviderLookup interface {
	GetByID(ctx context.Context, id string) (*entities.Provider, error)
}

// ProviderSyncTrigger queues a sync of one provider
type ProviderSyncTrigger interface {
	TriggerProviderSync(ctx context.Context, providerID string) (string, error)
}

// TelemedWebhookHandler handles partner webhooks once the gateway has
// verified them
type TelemedWebhookHandler struct {
	providers ProviderLookup
	ingestor  RecordUpserter
	sync      ProviderSyncTrigger
}

// NewTelemedWebhookHandler creates a new webhook handler
func NewTelemedWebhookHandler(providers ProviderLookup, ingestor RecordUpserter, sync ProviderSyncTrigger) *TelemedWebhookHandler {
	return &TelemedWebhookHandler{
		providers: providers,
		ingestor:  ingestor,
		sync:      sync,
	}
}

// HandleEvent processes POST /webhooks/telemed/{providerId}
func (h *TelemedWebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx)

	providerID := strings.TrimSpace(r.PathValue("providerId"))
	if providerID == "" {
		respondWithError(w, http.StatusBadRequest, "provider id is required")
		return
	}
	if _, err := h.providers.GetByID(ctx, providerID); err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			respondWithError(w, http.StatusBadRequest, "unknown provider")
			return
		}
		logger.Error().Err(err).Str("provider_id", providerID).Msg("Failed to load provider")
		respondWithError(w, http.StatusInternalServerError, "failed to load provider")
		return
	}

	raw, ok := middleware.WebhookPayloadFromContext(ctx)
	if !ok {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "failed to read body")
			return
		}
		raw = body
	}

	var event WebhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	var (
		externalID string
		created    bool
		err        error
	)
	switch event.Event {
	case EventConsultationUpserted:
		externalID, created, err = ingest(event.Data, func(dto *telemed.ConsultationDTO) (bool, error) {
			return h.ingestor.UpsertConsultation(ctx, providerID, dto)
		})
	case EventPrescriptionUpserted:
		externalID, created, err = ingest(event.Data, func(dto *telemed.PrescriptionDTO) (bool, error) {
			return h.ingestor.UpsertPrescription(ctx, providerID, dto)
		})
	case EventMedicalRecordUpserted:
		externalID, created, err = ingest(event.Data, func(dto *telemed.MedicalRecordDTO) (bool, error) {
			return h.ingestor.UpsertMedicalRecord(ctx, providerID, dto)
		})
	default:
		logger.Info().Str("provider_id", providerID).Str("event", event.Event).Msg("Ignoring webhook event")
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status": "ignored",
			"event":  event.Event,
		})
		return
	}

	if err != nil {
		status := statusFor(err)
		e := logger.Warn()
		if status >= http.StatusInternalServerError {
			e = logger.Error()
		}
		e.Err(err).
			Str("provider_id", providerID).
			Str("event", event.Event).
			Str("external_id", externalID).
			Msg("Failed to process webhook event")
		msg := err.Error()
		if status >= http.StatusInternalServerError {
			msg = "failed to process event"
		}
		respondWithError(w, status, msg)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "processed",
		"event":      event.Event,
		"externalId": externalID,
		"created":    created,
	})
}

// RequestSync handles POST /webhooks/partner/{providerId}/sync
func (h *TelemedWebhookHandler) RequestSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerID := strings.TrimSpace(r.PathValue("providerId"))
	if providerID == "" {
		respondWithError(w, http.StatusBadRequest, "provider id is required")
		return
	}

	jobID, err := h.sync.TriggerProviderSync(ctx, providerID)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			respondWithError(w, http.StatusBadRequest, "unknown provider")
			return
		}
		observability.LoggerFromContext(ctx).Error().Err(err).Str("provider_id", providerID).Msg("Failed to queue provider sync")
		respondWithError(w, status, err.Error())
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"jobId":  jobID,
	})
}

func ingest[T telemed.Record](raw json.RawMessage, upsert func(*T) (bool, error)) (string, bool, error) {
	decoded := telemed.DecodeRecord[T](raw)
	if decoded.Err != nil {
		return decoded.ExternalID, false, decoded.Err
	}
	created, err := upsert(decoded.Value)
	return decoded.ExternalID, created, err
}
