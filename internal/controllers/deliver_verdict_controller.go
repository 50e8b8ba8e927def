package controllers

import (
	"net/http"

	"github.com/sunagi/homare/internal/middleware"
	"github.com/sunagi/homare/internal/services"

	"github.com/gin-gonic/gin"
)

type deliverVerdictController struct{ svc services.GatewayService }

func NewDeliverVerdictController(svc services.GatewayService) *deliverVerdictController {
	return &deliverVerdictController{svc}
}

type verdictReq struct {
	Nonce       uint64 `json:"nonce" binding:"required"`
	Verified    *bool  `json:"verified" binding:"required"`
	RiskScore   int    `json:"riskScore"`
	ProofDigest string `json:"proofDigest,omitempty"`
}

func (h *deliverVerdictController) Handle(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		return
	}
	var req verdictReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	claims, ok := middleware.GetVerifierClaims(c)
	if !ok || claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing verifier claims"})
		return
	}

	processed, err := h.svc.DeliverVerdict(c.Request.Context(), id, services.Verdict{
		Verifier:    claims.Subject,
		Nonce:       req.Nonce,
		Verified:    *req.Verified,
		RiskScore:   req.RiskScore,
		ProofDigest: req.ProofDigest,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, processed)
}

type getRequestController struct{ svc services.GatewayService }

func NewGetRequestController(svc services.GatewayService) *getRequestController {
	return &getRequestController{svc}
}

func (h *getRequestController) Handle(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		return
	}
	req, err := h.svc.GetRequest(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
