package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurolancer/backend/internal/dto"
	"github.com/neurolancer/backend/internal/http/handlers/common"
	"github.com/neurolancer/backend/internal/models"
	"github.com/neurolancer/backend/internal/service"
)

// ReferralUseCase операции реферальной программы.
type ReferralUseCase interface {
	Me(ctx context.Context, userID uuid.UUID, limit, offset int) (*service.ReferralOverview, error)
	ApplyCode(ctx context.Context, userID uuid.UUID, code string) (*models.Referral, error)
}

type ReferralHandler struct {
	referrals ReferralUseCase
}

func NewReferralHandler(referrals ReferralUseCase) *ReferralHandler {
	return &ReferralHandler{referrals: referrals}
}

// Me GET /referrals/me
func (h *ReferralHandler) Me(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	overview, err := h.referrals.Me(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// Apply POST /referrals/apply
func (h *ReferralHandler) Apply(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.ApplyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "code обязателен")
		return
	}

	ref, err := h.referrals.ApplyCode(c.Request.Context(), userID, req.Code)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ref)
}
