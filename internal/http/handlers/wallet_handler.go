// README: Wallet endpoints backed by the ledger.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bazar/internal/modules/ledger"
	"bazar/internal/types"
)

type WalletHandler struct {
	wallet *ledger.Service
}

func NewWalletHandler(svc *ledger.Service) *WalletHandler {
	return &WalletHandler{wallet: svc}
}

type moveFundsReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (h *WalletHandler) Deposit(c *gin.Context) {
	userID, amount, ok := h.bindMove(c)
	if !ok {
		return
	}
	if err := h.wallet.Deposit(c.Request.Context(), userID, amount); err != nil {
		writeWalletError(c, err)
		return
	}
	h.writeBalance(c, userID)
}

func (h *WalletHandler) Withdraw(c *gin.Context) {
	userID, amount, ok := h.bindMove(c)
	if !ok {
		return
	}
	if err := h.wallet.Withdraw(c.Request.Context(), userID, amount); err != nil {
		writeWalletError(c, err)
		return
	}
	h.writeBalance(c, userID)
}

func (h *WalletHandler) Balance(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing user id")
		return
	}
	h.writeBalance(c, types.ID(id))
}

func (h *WalletHandler) bindMove(c *gin.Context) (types.ID, types.Money, bool) {
	id := c.Param("id")
	var req moveFundsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return "", types.Money{}, false
	}
	if id == "" || req.Amount <= 0 {
		writeError(c, http.StatusBadRequest, "missing user id or non-positive amount")
		return "", types.Money{}, false
	}
	if req.Currency == "" {
		req.Currency = "TWD"
	}
	return types.ID(id), types.Money{Amount: req.Amount, Currency: req.Currency}, true
}

func (h *WalletHandler) writeBalance(c *gin.Context, userID types.ID) {
	balance, err := h.wallet.Balance(c.Request.Context(), userID)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	available, err := h.wallet.AvailableBalance(c.Request.Context(), userID)
	if err != nil {
		writeWalletError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"user_id":   userID,
		"balance":   balance,
		"available": available,
	})
}
