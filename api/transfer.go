package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/middleware"
	"github.com/yashasviy/ledger-api/models"
)

// Transferer is the ledger operation behind POST /transfer.
type Transferer interface {
	Transfer(ctx context.Context, req models.TransferRequest) error
}

// TransferHandler moves money from the authenticated caller to another user.
// fromId may be omitted; when given it must name the caller.
func TransferHandler(engine Transferer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "Invalid Body")
			return
		}

		caller, ok := middleware.CallerID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
			return
		}
		if req.FromID == "" {
			req.FromID = caller
		}
		if req.FromID != caller {
			writeError(w, http.StatusForbidden, "forbidden", "cannot transfer from another user's account")
			return
		}
		if req.ToID == "" {
			writeError(w, http.StatusBadRequest, "invalid_body", "toId is required")
			return
		}

		if err := engine.Transfer(r.Context(), req); err != nil {
			writeLedgerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.Kind(err)
	var status int
	switch kind {
	case "self_transfer", "invalid_amount", "insufficient_funds":
		status = http.StatusBadRequest
	case "account_not_found":
		status = http.StatusNotFound
	case "unavailable":
		writeError(w, http.StatusServiceUnavailable, kind, "Transaction Failed")
		return
	case "timeout":
		writeError(w, http.StatusGatewayTimeout, kind, "Transaction Abandoned")
		return
	default:
		writeError(w, http.StatusInternalServerError, "internal", "Transaction Failed")
		return
	}

	body := errorBody{Error: kind, Message: err.Error()}
	var notFound *ledger.AccountNotFoundError
	if errors.As(err, &notFound) {
		body.AccountID = notFound.AccountID
	}
	writeJSON(w, status, body)
}
