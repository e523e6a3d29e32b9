package processor_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforgehq/adforge/pkg/processor"
)

func postWebhook(t *testing.T, handler http.Handler, path string, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler(t *testing.T) {
	t.Parallel()

	newHandler := func(t *testing.T) (*fixture, http.Handler) {
		t.Helper()
		fix := newFixture(t)
		return fix, processor.NewWebhookHandler(fix.processor, nil).Routes()
	}

	t.Run("valid delivery answers 200 with decision", func(t *testing.T) {
		t.Parallel()
		fix, handler := newHandler(t)
		account := fix.createAccount(t, "buyer@example.com")

		payload := webhookBody{
			eventName:   "order_created",
			externalID:  "evt_http_1",
			userID:      account.UserID.String(),
			status:      "paid",
			productName: "AdForge Pro",
		}.encode(t)

		rec := postWebhook(t, handler, "/webhooks/lemonsqueezy", payload, sign(payload))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "new", body["decision"])
		assert.Equal(t, "completed", body["status"])
	})

	t.Run("missing signature answers 400", func(t *testing.T) {
		t.Parallel()
		_, handler := newHandler(t)
		payload := webhookBody{eventName: "order_created", externalID: "evt_http_2"}.encode(t)

		rec := postWebhook(t, handler, "/webhooks/lemonsqueezy", payload, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tampered payload answers 400", func(t *testing.T) {
		t.Parallel()
		_, handler := newHandler(t)
		payload := webhookBody{eventName: "order_created", externalID: "evt_http_3"}.encode(t)
		signature := sign(payload)
		payload[len(payload)-2] = 'x'

		rec := postWebhook(t, handler, "/webhooks/lemonsqueezy", payload, signature)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("authenticated but malformed payload answers 400", func(t *testing.T) {
		t.Parallel()
		_, handler := newHandler(t)
		payload := []byte(`{"meta":{},"data":{}}`)

		rec := postWebhook(t, handler, "/webhooks/lemonsqueezy", payload, sign(payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown provider answers 400", func(t *testing.T) {
		t.Parallel()
		_, handler := newHandler(t)
		payload := webhookBody{eventName: "order_created", externalID: "evt_http_4"}.encode(t)

		rec := postWebhook(t, handler, "/webhooks/stripe", payload, sign(payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unhandled event type still answers 200", func(t *testing.T) {
		t.Parallel()
		_, handler := newHandler(t)
		payload := webhookBody{eventName: "license_key_created", externalID: "evt_http_5"}.encode(t)

		rec := postWebhook(t, handler, "/webhooks/lemonsqueezy", payload, sign(payload))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "skipped", body["status"])
	})

	t.Run("handler failure still answers 200", func(t *testing.T) {
		t.Parallel()
		_, handler := newHandler(t)

		// No account exists for this event; the record fails internally
		// but the provider must not keep redelivering.
		payload := webhookBody{
			eventName:   "order_created",
			externalID:  "evt_http_6",
			email:       "stranger@example.com",
			status:      "paid",
			productName: "AdForge Pro",
		}.encode(t)

		rec := postWebhook(t, handler, "/webhooks/lemonsqueezy", payload, sign(payload))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "failed", body["status"])
	})
}
