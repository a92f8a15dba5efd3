package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/repositories"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportTruncatedHeader is set on an export that hit the row cap. Narrow the
// filter to fetch the rest.
const ExportTruncatedHeader = "X-Export-Truncated"

type rejectRequest struct {
	Reason string `json:"reason"`
}

type bulkRequest struct {
	IDs    []uint                   `json:"ids" binding:"required"`
	Status models.TransactionStatus `json:"status" binding:"required"`
	Reason string                   `json:"reason"`
}

type kycRequest struct {
	Status string `json:"status" binding:"required"`
}

func parseFilter(c *gin.Context) (repositories.TransactionFilter, error) {
	var filter repositories.TransactionFilter
	var err error

	if filter.UserID, err = queryUint(c, "user_id"); err != nil {
		return filter, err
	}
	filter.Type = models.TransactionType(c.Query("type"))
	filter.Status = models.TransactionStatus(c.Query("status"))
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return filter, err
	}

	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := c.Query(bound.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New(errors.ErrCodeValidation, bound.name+" must be an RFC3339 time")
		}
		*bound.dst = t.UTC()
	}
	return filter, nil
}

func (h *HandlerManager) ListTransactions(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}

	txns, total, err := h.Ledger.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "transactions",
		"data":    txns,
		"pagination": gin.H{
			"total":  total,
			"offset": filter.Offset,
			"count":  len(txns),
		},
	})
}

func (h *HandlerManager) ExportTransactions(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		badRequest(c, "unknown transaction type")
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		badRequest(c, "unknown transaction status")
		return
	}

	// buffered so a failed export still gets a JSON error
	var buf bytes.Buffer
	result, err := h.Exports.ExportTransactions(c.Request.Context(), filter, &buf)
	if err != nil {
		respondError(c, err)
		return
	}

	name := fmt.Sprintf("transactions_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	logger.Info("Transactions exported", "rows", result.Rows, "truncated", result.Truncated, "file", name)
	if result.Truncated {
		c.Header(ExportTruncatedHeader, "true")
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *HandlerManager) ApproveTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.Ledger.ApproveTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	outcome(c, o, gin.H{"transaction_id": id})
}

func (h *HandlerManager) RejectTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	o, err := h.Ledger.RejectTransaction(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	outcome(c, o, gin.H{"transaction_id": id})
}

func (h *HandlerManager) BulkUpdate(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ids and status are required")
		return
	}

	result, err := h.Ledger.BulkUpdate(c.Request.Context(), req.IDs, req.Status, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "batch applied", result)
}

func (h *HandlerManager) SetKYCStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req kycRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	if err := h.Users.SetKYCStatus(c.Request.Context(), id, req.Status); err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "kyc status updated", gin.H{"user_id": id, "kyc_status": req.Status})
}
