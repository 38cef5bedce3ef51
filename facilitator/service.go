package facilitator

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gluenet/agentmesh"
)

// Service is the facilitator's HTTP surface. It holds no request state:
// every verify and settle is decided from the request body and the chain.
type Service struct {
	registry *Registry
	chainID  uint64
	log      *zap.Logger
	metrics  *Metrics
}

// NewService wires the HTTP surface over a settler registry.
func NewService(registry *Registry, chainID uint64, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		registry: registry,
		chainID:  chainID,
		log:      log.Named("facilitator"),
		metrics:  NewMetrics(),
	}
}

// Router mounts the endpoints on a fresh gin engine.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/supported", s.handleSupported)
	router.POST("/verify", s.handleVerify)
	router.POST("/settle", s.handleSettle)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	return router
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, agentmesh.HealthResponse{Status: "ok", ChainID: s.chainID})
}

func (s *Service) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, agentmesh.SupportedResponse{Kinds: s.registry.Kinds()})
}

func (s *Service) handleVerify(c *gin.Context) {
	var req agentmesh.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed verify request: " + err.Error()})
		return
	}

	settler, ok := s.registry.ForRequirement(req.PaymentRequirements)
	if !ok {
		s.metrics.observeVerify(false)
		c.JSON(http.StatusOK, invalid(ReasonUnsupportedKind))
		return
	}

	resp, err := settler.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.observeError("verify")
		s.log.Error("verify failed against the node", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"reason": ReasonRpcUnavailable})
		return
	}

	s.metrics.observeVerify(resp.IsValid)
	if !resp.IsValid {
		s.log.Info("payment rejected",
			zap.String("payer", req.PaymentPayload.From),
			zap.String("reason", resp.Reason))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleSettle(c *gin.Context) {
	var req agentmesh.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed settle request: " + err.Error()})
		return
	}

	settler, ok := s.registry.ForRequirement(req.PaymentRequirements)
	if !ok {
		s.metrics.observeSettle(false, 0)
		c.JSON(http.StatusOK, agentmesh.SettleResponse{Success: false, Reason: ReasonUnsupportedKind})
		return
	}

	start := time.Now()
	resp, err := settler.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.metrics.observeError("settle")
		s.log.Error("settle failed against the node", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"reason": ReasonRpcUnavailable})
		return
	}

	s.metrics.observeSettle(resp.Success, time.Since(start).Seconds())
	if resp.Success {
		s.log.Info("payment settled",
			zap.String("payer", req.PaymentPayload.From),
			zap.String("payee", req.PaymentPayload.To),
			zap.String("value", req.PaymentPayload.Value),
			zap.String("tx", agentmesh.ShortHash(resp.Transaction)))
	} else {
		s.log.Info("settlement refused",
			zap.String("payer", req.PaymentPayload.From),
			zap.String("reason", resp.Reason))
	}
	c.JSON(http.StatusOK, resp)
}
