package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/shopspring/decimal"
)

// multipart framing allowance on top of the screenshot itself
const multipartOverhead = 64 << 10

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type transactionPage struct {
	Transactions []models.Transaction `json:"transactions"`
	NextBefore   uint                 `json:"next_before,omitempty"`
}

func (h *HandlerManager) GetWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	wallet, err := h.Users.GetWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "wallet", wallet)
}

func (h *HandlerManager) ListMyTransactions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	before, err := queryUint(c, "before")
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}

	page, next, err := h.Ledger.TransactionPage(c.Request.Context(), userID, before, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if page == nil {
		page = []models.Transaction{}
	}
	success(c, http.StatusOK, "transactions", transactionPage{Transactions: page, NextBefore: next})
}

// SubmitDeposit takes a multipart form with an amount and a screenshot of
// the UPI payment.
func (h *HandlerManager) SubmitDeposit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadSize+multipartOverhead)

	amount, err := decimal.NewFromString(c.PostForm("amount"))
	if err != nil {
		badRequest(c, "amount must be a number")
		return
	}
	header, err := c.FormFile("screenshot")
	if err != nil {
		badRequest(c, "screenshot is required")
		return
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, "screenshot could not be read")
		return
	}
	defer file.Close()

	// one byte past the limit is enough for the size check to fail
	data, err := io.ReadAll(io.LimitReader(file, h.MaxUploadSize+1))
	if err != nil {
		badRequest(c, "screenshot could not be read")
		return
	}

	txn, err := h.Proofs.SubmitDepositProof(c.Request.Context(), userID, amount, header.Filename, data)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "deposit submitted for review", txn)
}

func (h *HandlerManager) CreateCheckout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount is required")
		return
	}

	session, err := h.Payments.CreateCheckoutSession(c.Request.Context(), userID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "checkout session created", session)
}

func (h *HandlerManager) RequestWithdrawal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount is required")
		return
	}

	txn, err := h.Ledger.CreateTransaction(c.Request.Context(), userID, models.TxTypeWithdrawal, req.Amount, models.TransactionMeta{})
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusCreated, "withdrawal requested", txn)
}

func (h *HandlerManager) CancelWithdrawal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	o, err := h.Ledger.CancelWithdrawal(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	outcome(c, o, gin.H{"transaction_id": id})
}
