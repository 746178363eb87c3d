// README: Operator endpoints for dispute resolution.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bazar/internal/modules/dispute"
	"bazar/internal/types"
)

type DisputeHandler struct {
	dispute *dispute.Service
}

func NewDisputeHandler(svc *dispute.Service) *DisputeHandler {
	return &DisputeHandler{dispute: svc}
}

type resolveReq struct {
	Outcome    string `json:"outcome"`
	OperatorID string `json:"operator_id"`
}

func (h *DisputeHandler) Resolve(c *gin.Context) {
	id := c.Param("id")
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if id == "" || req.OperatorID == "" {
		writeError(c, http.StatusBadRequest, "missing order id or operator_id")
		return
	}
	err := h.dispute.Resolve(c.Request.Context(), dispute.ResolveCommand{
		OrderID:    types.ID(id),
		Outcome:    dispute.Outcome(req.Outcome),
		OperatorID: types.ID(req.OperatorID),
	})
	if err != nil {
		writeDisputeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"outcome": req.Outcome})
}

// Suggest returns the triage assistant's advisory outcome for an open
// dispute. Operators make the final call.
func (h *DisputeHandler) Suggest(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	res, err := h.dispute.Suggest(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDisputeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
