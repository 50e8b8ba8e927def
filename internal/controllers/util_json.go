package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sunagi/homare/pkg/domain"

	"github.com/gin-gonic/gin"
)

// writeError maps a domain error onto an HTTP response. Absent entities are
// 404 regardless of kind; everything else follows the error's kind.
func writeError(c *gin.Context, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch derr.Code {
	case "UnknownTask", "UnknownRequest", "UnknownCompletion":
		c.JSON(http.StatusNotFound, gin.H{"error": derr.Message, "code": derr.Code})
		return
	}

	status := http.StatusInternalServerError
	switch derr.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindAuthorization:
		status = http.StatusForbidden
	case domain.KindStateConflict:
		status = http.StatusConflict
	case domain.KindResource:
		status = http.StatusServiceUnavailable
	case domain.KindExternal:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": derr.Code})
}

func paramUint(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid '" + name + "'"})
		return 0, false
	}
	return v, true
}
