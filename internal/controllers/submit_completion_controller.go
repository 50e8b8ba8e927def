package controllers

import (
	"net/http"

	"github.com/sunagi/homare/internal/services"

	"github.com/gin-gonic/gin"
)

type submitCompletionController struct{ svc services.RegistryService }

func NewSubmitCompletionController(svc services.RegistryService) *submitCompletionController {
	return &submitCompletionController{svc}
}

type submitCompletionReq struct {
	Participant string `json:"participant" binding:"required"`
	Proof       string `json:"proof" binding:"required"`
}

func (h *submitCompletionController) Handle(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		return
	}
	var req submitCompletionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	completion, vreq, err := h.svc.SubmitCompletion(c.Request.Context(), id, req.Participant, req.Proof)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"completion":            completion,
		"verificationRequestId": vreq.ID,
	})
}

type getCompletionController struct{ svc services.RegistryService }

func NewGetCompletionController(svc services.RegistryService) *getCompletionController {
	return &getCompletionController{svc}
}

func (h *getCompletionController) Handle(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		return
	}
	completion, err := h.svc.GetCompletion(c.Request.Context(), id, c.Param("participant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, completion)
}

type taskStatsController struct{ svc services.RegistryService }

func NewTaskStatsController(svc services.RegistryService) *taskStatsController {
	return &taskStatsController{svc}
}

func (h *taskStatsController) Handle(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		return
	}
	stats, err := h.svc.TaskStats(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
