// Package webhook delivers signed event notifications to tenant endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/resilience"
)

// Event names delivered to tenant endpoints.
const (
	EventDraftReady     = "draft.ready"
	EventDraftConfirmed = "draft.confirmed"
	EventRunFailed      = "run.failed"
)

// Payload is the JSON body of a webhook delivery. Draft is populated only
// for draft.confirmed, carrying the final reviewed field values.
type Payload struct {
	Event        string            `json:"event"`
	SubmissionID string            `json:"submission_id"`
	RunID        string            `json:"run_id,omitempty"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Error        string            `json:"error,omitempty"`
	Draft        *model.FieldDraft `json:"draft,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Dispatcher posts signed webhook payloads. Each delivery carries an
// X-Intake-Signature header: hex(HMAC-SHA256(secret, body)).
type Dispatcher struct {
	endpoint string
	secret   []byte
	client   *http.Client
	retry    resilience.RetryConfig
}

// NewDispatcher creates a Dispatcher for the given endpoint. An empty
// endpoint disables delivery; Send becomes a no-op.
func NewDispatcher(endpoint, secret string, retry resilience.RetryConfig) *Dispatcher {
	return &Dispatcher{
		endpoint: endpoint,
		secret:   []byte(secret),
		client:   &http.Client{Timeout: 15 * time.Second},
		retry:    retry,
	}
}

// Enabled reports whether an endpoint is configured.
func (d *Dispatcher) Enabled() bool {
	return d.endpoint != ""
}

// Send delivers the payload, retrying transient failures. Non-2xx responses
// map to CodedErrors so 4xx rejections fail fast while 5xx retries.
func (d *Dispatcher) Send(ctx context.Context, p Payload) error {
	if !d.Enabled() {
		return nil
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "webhook: marshal payload")
	}

	err = resilience.Do(ctx, d.retry, func(ctx context.Context) error {
		return d.deliver(ctx, body)
	})
	if err != nil {
		return eris.Wrapf(err, "webhook: deliver %s for submission %s", p.Event, p.SubmissionID)
	}

	zap.L().Info("webhook delivered",
		zap.String("event", p.Event),
		zap.String("submission_id", p.SubmissionID),
	)
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "webhook: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Intake-Signature", Sign(d.secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "webhook: post")
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return resilience.Codef(resilience.CodeFromHTTPStatus(resp.StatusCode),
			"webhook: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the expected one in
// constant time. Exported for use by consumers validating deliveries.
func VerifySignature(secret, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}
