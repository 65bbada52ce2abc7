package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/goliatone/go-proofcast/pkg/domain"
)

// Header names for the inbound webhook contract.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderDomain    = "X-Shop-Domain"
)

const defaultMaxBodyBytes = 1 << 20

// Handler serves POST /webhooks/{source}. The caller owns retry policy; this
// endpoint answers synchronously with the error taxonomy and 202 on a
// successful hand-off to the bus.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		req := IntakeRequest{
			Source:    r.PathValue("source"),
			Domain:    r.Header.Get(HeaderDomain),
			Signature: r.Header.Get(HeaderSignature),
			Body:      body,
		}

		event, err := s.Ingest(r.Context(), req)
		if err != nil {
			writeError(w, statusFromError(err), err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"id":      event.ID,
			"site_id": event.SiteID,
		})
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": message})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBusUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
