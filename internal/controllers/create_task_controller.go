package controllers

import (
	"net/http"
	"time"

	"github.com/sunagi/homare/internal/services"
	"github.com/sunagi/homare/pkg/domain"

	"github.com/gin-gonic/gin"
)

type createTaskController struct{ svc services.RegistryService }

func NewCreateTaskController(svc services.RegistryService) *createTaskController {
	return &createTaskController{svc}
}

type createTaskReq struct {
	Advertiser      string              `json:"advertiser" binding:"required"`
	Category        domain.TaskCategory `json:"category" binding:"required"`
	RewardAmount    uint64              `json:"rewardAmount" binding:"required"`
	RewardAsset     string              `json:"rewardAsset" binding:"required"`
	MaxParticipants int                 `json:"maxParticipants" binding:"required"`
	StartTime       string              `json:"startTime" binding:"required"` // RFC3339
	EndTime         string              `json:"endTime" binding:"required"`   // RFC3339
	Criteria        string              `json:"criteria,omitempty"`
	RequireKYC      bool                `json:"requireKyc,omitempty"`
	MinScore        int                 `json:"minScore"`
}

func (h *createTaskController) Handle(c *gin.Context) {
	var req createTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'startTime' (use RFC3339)"})
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'endTime' (use RFC3339)"})
		return
	}

	task, err := h.svc.CreateTask(c.Request.Context(), domain.Task{
		Advertiser:      req.Advertiser,
		Category:        req.Category,
		RewardAmount:    req.RewardAmount,
		RewardAsset:     req.RewardAsset,
		MaxParticipants: req.MaxParticipants,
		StartTime:       start,
		EndTime:         end,
		Criteria:        req.Criteria,
		RequireKYC:      req.RequireKYC,
		MinScore:        req.MinScore,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}
