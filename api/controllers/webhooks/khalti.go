package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/subpay-backend/api/responses"
	webhooksvc "github.com/angelmondragon/subpay-backend/internal/webhooks"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

// khaltiEnvelope is the delivery shape Khalti posts: an event type tag and
// the event payload. Older deliveries put the payload fields at the top
// level, so an absent "payload" falls back to the whole body.
type khaltiEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// KhaltiWebhook ingests gateway callbacks. The gateway retries anything that
// is not a 2xx, and reconciliation is idempotent, so this handler always
// acks; ingestion failures are logged and recorded on the audit row instead.
func KhaltiWebhook(svc *webhooksvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "reading webhook body failed", err)
			}
			responses.WriteSuccess(w, map[string]bool{"received": true})
			return
		}

		var envelope khaltiEnvelope
		// Malformed JSON still gets stored as an unknown event.
		_ = json.Unmarshal(body, &envelope)
		payload := envelope.Payload
		if len(payload) == 0 {
			payload = body
		}

		if _, err := svc.Ingest(ctx, webhooksvc.InboundEvent{Type: envelope.Event, Payload: payload}); err != nil {
			// Audit persistence failed. The ack still goes out so the gateway
			// does not hammer us; verify polling covers the lost event.
			if logg != nil {
				logg.Error(ctx, "webhook ingestion failed", err)
			}
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
