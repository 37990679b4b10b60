// README: HTTP handlers for relay routing and escrow operations.
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"relaydispatch/internal/modules/order"
	"relaydispatch/internal/types"
)

func (s *Server) handleRelayRoute(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	force := c.Query("force") == "true"

	generated, err := s.materializer.MaterializeRelayLegs(c.Request.Context(), types.ID(id), force)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	status := order.RoutingFailed
	if generated {
		status = order.RoutingReady
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":       id,
		"generated":      generated,
		"routing_status": status,
	})
}

type escrowHoldReq struct {
	WalletID    string `json:"wallet_id"`
	OrderNumber int64  `json:"order_number"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

func (s *Server) handleEscrowHold(c *gin.Context) {
	var req escrowHoldReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.WalletID == "" || req.OrderNumber <= 0 {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		writeError(c, http.StatusBadRequest, "invalid amount")
		return
	}

	txn, err := s.ledger.HoldFunds(c.Request.Context(),
		types.ID(req.WalletID), amount, req.OrderNumber, req.Description)
	if err != nil {
		writeEscrowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": txn.ID,
		"reference":      txn.Reference,
		"amount":         txn.Amount.StringFixed(2),
		"escrow_status":  txn.EscrowStatus,
	})
}

type escrowReleaseReq struct {
	Description string `json:"description"`
}

func (s *Server) handleEscrowRelease(c *gin.Context) {
	orderNumber, ok := orderNumberParam(c)
	if !ok {
		return
	}
	var req escrowReleaseReq
	_ = c.ShouldBindJSON(&req)

	txn, err := s.ledger.ReleaseFunds(c.Request.Context(), orderNumber, req.Description)
	if err != nil {
		writeEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": txn.ID,
		"escrow_status":  txn.EscrowStatus,
	})
}

type escrowRefundReq struct {
	Reason string `json:"reason"`
	// Amount, when present, requests a partial refund.
	Amount string `json:"amount"`
}

func (s *Server) handleEscrowRefund(c *gin.Context) {
	orderNumber, ok := orderNumberParam(c)
	if !ok {
		return
	}
	var req escrowRefundReq
	_ = c.ShouldBindJSON(&req)

	var partial *decimal.Decimal
	if req.Amount != "" {
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid amount")
			return
		}
		partial = &amount
	}

	hold, refund, err := s.ledger.RefundFunds(c.Request.Context(), orderNumber, req.Reason, partial)
	if err != nil {
		writeEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"refund_id":     refund.ID,
		"reference":     refund.Reference,
		"amount":        refund.Amount.StringFixed(2),
		"escrow_status": hold.EscrowStatus,
		"can_refund":    hold.CanRefund,
	})
}

func (s *Server) handleEscrowStatus(c *gin.Context) {
	orderNumber, ok := orderNumberParam(c)
	if !ok {
		return
	}
	st, err := s.ledger.EscrowStatus(c.Request.Context(), orderNumber)
	if err != nil {
		writeEscrowError(c, err)
		return
	}
	if !st.Exists {
		writeError(c, http.StatusNotFound, "no escrow for this order")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleWalletEscrow(c *gin.Context) {
	walletID := types.ID(c.Param("id"))
	ctx := c.Request.Context()

	total, err := s.ledger.TotalEscrowed(ctx, walletID)
	if err != nil {
		writeEscrowError(c, err)
		return
	}
	history, err := s.ledger.EscrowHistory(ctx, walletID)
	if err != nil {
		writeEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_id":      walletID,
		"total_escrowed": total.StringFixed(2),
		"history":        history,
	})
}

func (s *Server) handleListNodes(c *gin.Context) {
	nodes, err := s.nodes.ActiveNodes(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
}

func orderNumberParam(c *gin.Context) (int64, bool) {
	n, err := strconv.ParseInt(c.Param("orderNumber"), 10, 64)
	if err != nil || n <= 0 {
		writeError(c, http.StatusBadRequest, "invalid order number")
		return 0, false
	}
	return n, true
}
