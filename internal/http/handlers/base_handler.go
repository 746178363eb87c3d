// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"bazar/internal/modules/dispute"
	"bazar/internal/modules/ledger"
	"bazar/internal/modules/order"
	"bazar/internal/modules/routing"
	"bazar/internal/payment"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrInsufficientFunds), errors.Is(err, payment.ErrDeclined):
		writeError(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, order.ErrProductUnavailable),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrDisputeWindowExpired),
		errors.Is(err, order.ErrNotRouted),
		errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeDisputeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispute.ErrBadOutcome):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispute.ErrNotDisputed), errors.Is(err, dispute.ErrAlreadyResolved):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeWalletError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, payment.ErrDeclined):
		writeError(c, http.StatusPaymentRequired, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeRoutingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, routing.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, routing.ErrBatchNotReady), errors.Is(err, routing.ErrStopCompleted):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
