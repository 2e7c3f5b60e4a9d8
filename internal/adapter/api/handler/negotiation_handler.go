package handler

import (
	"github.com/labstack/echo/v4"

	"dealroom/internal/domain/service"
	"dealroom/internal/usecase"
	"dealroom/pkg/response"
)

type NegotiationHandler struct {
	negotiationUseCase *usecase.NegotiationUseCase
}

func NewNegotiationHandler(negotiationUseCase *usecase.NegotiationUseCase) *NegotiationHandler {
	return &NegotiationHandler{
		negotiationUseCase: negotiationUseCase,
	}
}

type negotiateRequest struct {
	Action   string  `json:"action" validate:"required,oneof=offer counter accept reject cancel"`
	NewPrice float64 `json:"newPrice" validate:"gte=0"`
}

type commitRequest struct {
	ListingID string `json:"listingId"`
}

func (h *NegotiationHandler) Negotiate(c echo.Context) error {
	var req negotiateRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	result, err := h.negotiationUseCase.Negotiate(c.Request().Context(), userID(c), usecase.NegotiateInput{
		ConversationID: c.Param("id"),
		Action:         service.NegotiationAction(req.Action),
		Price:          req.NewPrice,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, result)
}

func (h *NegotiationHandler) Cancel(c echo.Context) error {
	result, err := h.negotiationUseCase.Cancel(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, result)
}

// CommitNegotiatedPrice writes the agreed price to the listing. The listing
// defaults to the conversation's own.
func (h *NegotiationHandler) CommitNegotiatedPrice(c echo.Context) error {
	var req commitRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	conv, err := h.negotiationUseCase.CommitNegotiatedPrice(c.Request().Context(), userID(c), c.Param("id"), req.ListingID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, conv)
}
