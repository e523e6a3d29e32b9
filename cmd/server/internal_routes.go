package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adforgehq/adforge/pkg/billing"
	"github.com/adforgehq/adforge/pkg/ledger"
	"github.com/adforgehq/adforge/pkg/payment"
)

// internalRoutes exposes the operator/backend surface: account lookup,
// usage recording with overage evaluation, usage reset, promo code
// redemption, and checkout link creation. These endpoints sit behind
// the internal network boundary, not the public API gateway.
func internalRoutes(subscriptions *billing.Service, monitor *billing.UsageMonitor, accounts billing.AccountStore, provider payment.Provider, led *ledger.Ledger) chi.Router {
	r := chi.NewRouter()

	r.Get("/webhooks/terminal", func(w http.ResponseWriter, req *http.Request) {
		records, err := led.ListTerminal(req.Context(), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(records),
			"records": records,
		})
	})

	r.Get("/accounts/{userID}", func(w http.ResponseWriter, req *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(req, "userID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		account, err := accounts.Get(req.Context(), userID)
		if err != nil {
			writeBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	})

	r.Post("/accounts/{userID}", func(w http.ResponseWriter, req *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(req, "userID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		account, err := subscriptions.CreateAccount(req.Context(), userID, body.Email)
		if err != nil {
			if errors.Is(err, billing.ErrAccountAlreadyExists) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, account)
	})

	r.Post("/usage/{userID}", func(w http.ResponseWriter, req *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(req, "userID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		n := int64(1)
		if raw := req.URL.Query().Get("n"); raw != "" {
			if n, err = strconv.ParseInt(raw, 10, 64); err != nil {
				writeError(w, http.StatusBadRequest, "invalid usage amount")
				return
			}
		}

		account, err := subscriptions.RecordUsage(req.Context(), userID, n)
		if err != nil {
			writeBillingError(w, err)
			return
		}

		// The report is valid even when the warning marker errors; the
		// monitor logs delivery problems itself.
		report, _ := monitor.Check(req.Context(), account)
		writeJSON(w, http.StatusOK, report)
	})

	r.Post("/usage/{userID}/reset", func(w http.ResponseWriter, req *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(req, "userID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		account, err := subscriptions.ResetUsage(req.Context(), userID)
		if err != nil {
			writeBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	})

	r.Post("/promo/{userID}/{code}", func(w http.ResponseWriter, req *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(req, "userID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		account, err := subscriptions.ApplyPromoCode(req.Context(), userID, chi.URLParam(req, "code"))
		if err != nil {
			writeBillingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	})

	r.Post("/checkout", func(w http.ResponseWriter, req *http.Request) {
		var body payment.CheckoutRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		link, err := provider.CreateCheckoutLink(req.Context(), body)
		if err != nil {
			if errors.Is(err, payment.ErrProviderRequest) {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, link)
	})

	return r
}

func writeBillingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, billing.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, billing.ErrDowngradeNotAllowed),
		errors.Is(err, billing.ErrPromoCodeNotFound),
		errors.Is(err, billing.ErrNegativeUsage):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
