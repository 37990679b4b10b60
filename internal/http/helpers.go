// README: HTTP helper utilities for error mapping.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"relaydispatch/internal/modules/order"
	"relaydispatch/internal/modules/wallet"
)

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeEscrowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound), errors.Is(err, wallet.ErrEscrowNotHeld):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, wallet.ErrInvalidRefundAmount):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, wallet.ErrEscrowAlreadyHeld),
		errors.Is(err, wallet.ErrEscrowNotRefundable):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
