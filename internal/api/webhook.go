package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"propsync/internal/models"
	"propsync/internal/webhook"
)

const signaturePrefix = "sha256="

var errWebhookUnauthorized = errors.New("invalid webhook credentials")

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks are not available")
		return
	}

	limit := s.webhook.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}

	if err := s.verifyWebhook(r, body); err != nil {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected webhook with invalid credentials")
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload.Action = strings.TrimSpace(payload.Action)
	if payload.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	result, err := s.deps.Webhooks.Process(r.Context(), payload.Action, payload)
	switch {
	case errors.Is(err, webhook.ErrUnsupportedAction), errors.Is(err, webhook.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
	}
}

// verifyWebhook accepts either the shared secret header or an HMAC-SHA256
// signature of the raw body keyed with the same secret. Without a
// configured secret every request is rejected.
func (s *HTTPServer) verifyWebhook(r *http.Request, body []byte) error {
	secret := s.webhook.Secret
	if secret == "" {
		return errWebhookUnauthorized
	}

	if got := r.Header.Get(s.webhook.SecretHeader); got != "" {
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1 {
			return nil
		}
		return errWebhookUnauthorized
	}

	sig := strings.TrimSpace(r.Header.Get(s.webhook.SignatureHeader))
	if !strings.HasPrefix(sig, signaturePrefix) {
		return errWebhookUnauthorized
	}
	got, err := hex.DecodeString(strings.TrimPrefix(sig, signaturePrefix))
	if err != nil {
		return errWebhookUnauthorized
	}
	if !hmac.Equal(got, Sign([]byte(secret), body)) {
		return errWebhookUnauthorized
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
