package controllers

import (
	"net/http"

	"github.com/sunagi/homare/internal/services"
	"github.com/sunagi/homare/pkg/domain"

	"github.com/gin-gonic/gin"
)

type setTaskStatusController struct{ svc services.RegistryService }

func NewSetTaskStatusController(svc services.RegistryService) *setTaskStatusController {
	return &setTaskStatusController{svc}
}

type setStatusReq struct {
	Status domain.TaskStatus `json:"status" binding:"required"`
}

func (h *setTaskStatusController) Handle(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		return
	}
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	task, err := h.svc.SetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
