package controllers

import (
	"net/http"

	"github.com/sunagi/homare/internal/services"

	"github.com/gin-gonic/gin"
)

type registerReferralController struct{ svc services.SettlementService }

func NewRegisterReferralController(svc services.SettlementService) *registerReferralController {
	return &registerReferralController{svc}
}

type registerReferralReq struct {
	Participant  string `json:"participant" binding:"required"`
	ReferrerCode string `json:"referrerCode" binding:"required"`
}

func (h *registerReferralController) Handle(c *gin.Context) {
	var req registerReferralReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	rec, err := h.svc.RegisterReferral(c.Request.Context(), req.Participant, req.ReferrerCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type mintCodeController struct{ svc services.SettlementService }

func NewMintCodeController(svc services.SettlementService) *mintCodeController {
	return &mintCodeController{svc}
}

type mintCodeReq struct {
	Identity string `json:"identity" binding:"required"`
}

func (h *mintCodeController) Handle(c *gin.Context) {
	var req mintCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	code, err := h.svc.MintCode(c.Request.Context(), req.Identity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

type getReferralController struct{ svc services.SettlementService }

func NewGetReferralController(svc services.SettlementService) *getReferralController {
	return &getReferralController{svc}
}

func (h *getReferralController) Handle(c *gin.Context) {
	rec, err := h.svc.GetReferral(c.Request.Context(), c.Param("participant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
