package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quadmarket/quadmarket/internal/auth"
	"github.com/quadmarket/quadmarket/internal/commission"
	"github.com/quadmarket/quadmarket/internal/escrow"
	"github.com/quadmarket/quadmarket/internal/listing"
	"github.com/quadmarket/quadmarket/internal/metrics"
	"github.com/quadmarket/quadmarket/internal/notify"
	"github.com/quadmarket/quadmarket/internal/security"
	"github.com/quadmarket/quadmarket/internal/validation"
)

const maxRequestBody = 1 << 20 // 1 MiB

func (s *Server) buildRouter(
	listingSvc *listing.Service,
	commissionSvc *commission.Service,
	escrowSvc *escrow.Service,
	authManager *auth.Manager,
	subStore notify.SubscriptionStore,
) *gin.Engine {
	if s.cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		s.recoveryMiddleware(),
		s.requestContextMiddleware(),
		security.HeadersMiddleware(),
		security.CORSMiddleware(nil),
		validation.RequestSizeMiddleware(maxRequestBody),
		s.limiter.Middleware(),
		metrics.Middleware(),
		auth.Middleware(authManager),
	)

	listingH := listing.NewHandlers(listingSvc)
	commissionH := commission.NewHandlers(commissionSvc)
	escrowH := escrow.NewHandlers(escrowSvc)
	authH := auth.NewHandlers(authManager, s.cfg.AdminSecret)
	webhookH := notify.NewHandlers(subStore)

	// Operational endpoints.
	r.GET("/health", s.handleHealth)
	r.GET("/health/live", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/health/ready", s.handleReady)
	r.GET("/metrics", metrics.Handler())
	r.GET("/ws", s.hub.HandleWS)

	v1 := r.Group("/v1")

	// Public surface.
	v1.POST("/register", authH.Register)
	v1.POST("/admin/keys", authH.IssueAdminKey)
	v1.GET("/categories", listingH.Categories)
	v1.GET("/listings", listingH.Browse)
	v1.GET("/listings/:id", listingH.Get)

	// Authenticated surface.
	authed := v1.Group("", auth.RequireAuth())
	{
		authed.POST("/listings", listingH.Create)
		authed.POST("/listings/:id/archive", listingH.Archive)
		authed.DELETE("/listings/:id", listingH.Delete)

		authed.GET("/listings/:id/commission", commissionH.Quote)
		authed.POST("/listings/:id/commission", commissionH.Pay)
		authed.GET("/listings/:id/commission/payment", commissionH.Payment)

		authed.POST("/escrow", escrowH.Open)
		authed.GET("/escrow/:id", escrowH.Get)
		authed.POST("/escrow/:id/release", escrowH.Release)
		authed.POST("/escrow/:id/refund", escrowH.Refund)
		authed.POST("/escrow/:id/dispute", escrowH.Dispute)

		authed.GET("/users/:id/listings", listingH.ListBySeller)
		authed.GET("/users/:id/escrow", escrowH.ListBySeller)

		authed.POST("/webhooks", webhookH.Create)
		authed.GET("/webhooks", webhookH.List)
		authed.DELETE("/webhooks/:id", webhookH.Delete)
	}

	// Moderation and settlement queues.
	admin := v1.Group("/admin", auth.RequireAdmin())
	{
		admin.GET("/listings/review", listingH.ReviewQueue)
		admin.POST("/listings/:id/approve", listingH.Approve)
		admin.POST("/listings/:id/reject", listingH.Reject)
		admin.GET("/escrow", escrowH.Queue)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"env":    s.cfg.Env,
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.db != nil {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
