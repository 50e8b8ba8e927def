package controllers

import (
	"net/http"
	"strconv"

	"github.com/sunagi/homare/internal/services"

	"github.com/gin-gonic/gin"
)

type depositController struct{ svc services.SettlementService }

func NewDepositController(svc services.SettlementService) *depositController {
	return &depositController{svc}
}

type depositReq struct {
	Amount uint64 `json:"amount" binding:"required"`
}

func (h *depositController) Handle(c *gin.Context) {
	var req depositReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	balance, err := h.svc.Deposit(c.Request.Context(), c.Param("asset"), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": c.Param("asset"), "balance": balance})
}

type poolBalanceController struct{ svc services.SettlementService }

func NewPoolBalanceController(svc services.SettlementService) *poolBalanceController {
	return &poolBalanceController{svc}
}

func (h *poolBalanceController) Handle(c *gin.Context) {
	balance, err := h.svc.PoolBalance(c.Request.Context(), c.Param("asset"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": c.Param("asset"), "balance": balance})
}

type balanceController struct{ svc services.SettlementService }

func NewBalanceController(svc services.SettlementService) *balanceController {
	return &balanceController{svc}
}

func (h *balanceController) Handle(c *gin.Context) {
	balance, err := h.svc.Balance(c.Request.Context(), c.Param("identity"), c.Param("asset"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity": c.Param("identity"),
		"asset":    c.Param("asset"),
		"balance":  balance,
	})
}

type listSettlementsController struct{ svc services.SettlementService }

func NewListSettlementsController(svc services.SettlementService) *listSettlementsController {
	return &listSettlementsController{svc}
}

func (h *listSettlementsController) Handle(c *gin.Context) {
	if taskParam := c.Query("taskId"); taskParam != "" {
		taskID, err := strconv.ParseUint(taskParam, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'taskId'"})
			return
		}
		records, err := h.svc.SettlementsByTask(c.Request.Context(), taskID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"settlements": records, "count": len(records)})
		return
	}

	limit := int64(100)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'"})
			return
		}
		limit = n
	}
	records, err := h.svc.Settlements(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records, "count": len(records)})
}

type listOwedController struct{ svc services.SettlementService }

func NewListOwedController(svc services.SettlementService) *listOwedController {
	return &listOwedController{svc}
}

func (h *listOwedController) Handle(c *gin.Context) {
	owed, err := h.svc.ListOwed(c.Request.Context(), 0)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owed": owed, "count": len(owed)})
}

type retryOwedController struct{ svc services.SettlementService }

func NewRetryOwedController(svc services.SettlementService) *retryOwedController {
	return &retryOwedController{svc}
}

func (h *retryOwedController) Handle(c *gin.Context) {
	paid, err := h.svc.RetryOwed(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paid": paid})
}

type addAssetController struct{ svc services.RegistryService }

func NewAddAssetController(svc services.RegistryService) *addAssetController {
	return &addAssetController{svc}
}

type addAssetReq struct {
	Asset string `json:"asset" binding:"required"`
}

func (h *addAssetController) Handle(c *gin.Context) {
	var req addAssetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.svc.AddSupportedAsset(c.Request.Context(), req.Asset); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": req.Asset})
}
