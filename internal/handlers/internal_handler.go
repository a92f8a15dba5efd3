package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/models"
	"github.com/mroshb/szludo_wallet/internal/services"
	"github.com/shopspring/decimal"
)

type registerRequest struct {
	AccountRef   string `json:"account_ref" binding:"required"`
	TelegramID   *int64 `json:"telegram_id"`
	ReferralCode string `json:"referral_code"`
}

type battleRequest struct {
	UserID    uint            `json:"user_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	BattleRef string          `json:"battle_ref" binding:"required"`
}

type referralRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// RegisterUser is called by the account service when a player signs up.
func (h *HandlerManager) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "account_ref is required")
		return
	}

	user, created, err := h.Users.RegisterUser(c.Request.Context(), req.AccountRef, req.TelegramID, req.ReferralCode)
	if err != nil {
		respondError(c, err)
		return
	}
	if !created {
		success(c, http.StatusOK, "user already registered", user)
		return
	}
	success(c, http.StatusCreated, "user registered", user)
}

func (h *HandlerManager) DebitBattleFee(c *gin.Context) {
	h.battle(c, h.Ledger.DebitBattleFee)
}

func (h *HandlerManager) CreditBattleWin(c *gin.Context) {
	h.battle(c, h.Ledger.CreditBattleWin)
}

type battleFunc func(ctx context.Context, userID uint, amount decimal.Decimal, battleRef string) (*models.Transaction, services.Outcome, error)

func (h *HandlerManager) battle(c *gin.Context, apply battleFunc) {
	var req battleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id, amount and battle_ref are required")
		return
	}
	ref := strings.TrimSpace(req.BattleRef)
	if ref == "" || len(ref) > 96 {
		badRequest(c, "invalid battle_ref")
		return
	}

	txn, o, err := apply(c.Request.Context(), req.UserID, req.Amount, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	outcome(c, o, txn)
}

func (h *HandlerManager) CompleteReferral(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id is required")
		return
	}

	o, err := h.Referrals.CompleteReferral(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	outcome(c, o, gin.H{"user_id": req.UserID})
}

// Sweep runs one expiry pass on demand.
func (h *HandlerManager) Sweep(c *gin.Context) {
	result, err := h.Sweeper.ExpirePendingPayments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, http.StatusOK, "sweep finished", result)
}
