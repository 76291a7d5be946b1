package handlers

import (
	"net/http"
	"strings"

	"github.com/metergate/walletledger/internal/models"
	"github.com/metergate/walletledger/internal/pricing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TransactionHandler serves the debit audit trail.
type TransactionHandler struct {
	db *gorm.DB
}

// NewTransactionHandler constructs a TransactionHandler.
func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{db: db}
}

// listTransactionsQuery defines query parameters for listing transactions.
type listTransactionsQuery struct {
	UserID   string `form:"user_id"`
	KeyCode  string `form:"key_code"`
	Provider string `form:"provider"`
	Page     int    `form:"page,default=1"`
	Limit    int    `form:"limit,default=20"`
}

// List returns a paginated list of applied debits, newest first.
func (h *TransactionHandler) List(c *gin.Context) {
	var q listTransactionsQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid query"})
		return
	}
	if strings.TrimSpace(q.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "missing user_id"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	query := h.db.WithContext(c.Request.Context()).
		Model(&models.Transaction{}).
		Where("user_id = ?", strings.TrimSpace(q.UserID))
	if code := models.NormalizeKeyCode(q.KeyCode); code != "" {
		query = query.Where("key_code = ?", code)
	}
	if provider := strings.TrimSpace(q.Provider); provider != "" {
		query = query.Where("LOWER(provider) = ?", strings.ToLower(provider))
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}

	var rows []models.Transaction
	offset := (q.Page - 1) * q.Limit
	if errFind := query.Order("requested_at DESC, id DESC").Offset(offset).Limit(q.Limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":            row.ID,
			"key_code":      row.KeyCode,
			"provider":      row.Provider,
			"model":         row.Model,
			"input_units":   row.InputUnits,
			"output_units":  row.OutputUnits,
			"cost_usd":      pricing.MicrosToUSD(row.CostMicros),
			"remaining_usd": pricing.MicrosToUSD(row.RemainingMicros),
			"description":   row.Description,
			"requested_at":  row.RequestedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": out,
		"total":        total,
		"page":         q.Page,
		"limit":        q.Limit,
	})
}
