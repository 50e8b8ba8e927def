package controllers

import (
	"net/http"

	"github.com/sunagi/homare/internal/services"
	"github.com/sunagi/homare/pkg/domain"

	"github.com/gin-gonic/gin"
)

type getTaskController struct{ svc services.RegistryService }

func NewGetTaskController(svc services.RegistryService) *getTaskController {
	return &getTaskController{svc}
}

func (h *getTaskController) Handle(c *gin.Context) {
	id, ok := paramUint(c, "id")
	if !ok {
		return
	}
	task, err := h.svc.GetTask(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type listTasksController struct{ svc services.RegistryService }

func NewListTasksController(svc services.RegistryService) *listTasksController {
	return &listTasksController{svc}
}

func (h *listTasksController) Handle(c *gin.Context) {
	status := domain.TaskStatus(c.Query("status"))
	tasks, err := h.svc.ListTasks(c.Request.Context(), status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}
