// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"relaydispatch/internal/http/middleware"
	"relaydispatch/internal/modules/order"
	"relaydispatch/internal/modules/relaynode"
	"relaydispatch/internal/modules/wallet"
)

type ServerDeps struct {
	Materializer *order.Materializer
	Ledger       *wallet.Ledger
	Nodes        *relaynode.Directory
	Log          *zap.Logger
}

type Server struct {
	materializer *order.Materializer
	ledger       *wallet.Ledger
	nodes        *relaynode.Directory
	log          *zap.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		materializer: deps.Materializer,
		ledger:       deps.Ledger,
		nodes:        deps.Nodes,
		log:          deps.Log,
	}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(s.log))
	r.Use(middleware.Logging(s.log))

	r.POST("/api/orders/:id/relay-route", s.handleRelayRoute)

	r.POST("/api/escrow/hold", s.handleEscrowHold)
	r.POST("/api/escrow/:orderNumber/release", s.handleEscrowRelease)
	r.POST("/api/escrow/:orderNumber/refund", s.handleEscrowRefund)
	r.GET("/api/escrow/:orderNumber", s.handleEscrowStatus)
	r.GET("/api/wallets/:id/escrow", s.handleWalletEscrow)

	r.GET("/api/relay-nodes", s.handleListNodes)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
