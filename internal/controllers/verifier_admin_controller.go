package controllers

import (
	"net/http"

	"github.com/sunagi/homare/internal/services"
	"github.com/sunagi/homare/pkg/domain"

	"github.com/gin-gonic/gin"
)

type registerVerifierController struct{ svc services.GatewayService }

func NewRegisterVerifierController(svc services.GatewayService) *registerVerifierController {
	return &registerVerifierController{svc}
}

type registerVerifierReq struct {
	Identity    string               `json:"identity" binding:"required"`
	Category    domain.ProofCategory `json:"category" binding:"required"`
	CallbackURL string               `json:"callbackUrl" binding:"required"`
}

func (h *registerVerifierController) Handle(c *gin.Context) {
	var req registerVerifierReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	v, err := h.svc.RegisterVerifier(c.Request.Context(), domain.Verifier{
		Identity:    req.Identity,
		Category:    req.Category,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

type removeVerifierController struct{ svc services.GatewayService }

func NewRemoveVerifierController(svc services.GatewayService) *removeVerifierController {
	return &removeVerifierController{svc}
}

func (h *removeVerifierController) Handle(c *gin.Context) {
	identity := c.Param("identity")
	n, err := h.svc.RemoveVerifier(c.Request.Context(), identity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity, "removed": n})
}
