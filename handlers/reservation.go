package handlers

import (
	"net/http"

	"shutterbook/middleware"
	"shutterbook/services/reservation"
	"shutterbook/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CreateReservation handles POST /api/reservations.
func (hb *HandlerBundle) CreateReservation(c *gin.Context) {
	var input reservation.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validation_error", "invalid input", err.Error())
		return
	}
	r, err := hb.Reservations.Create(c.Request.Context(), input)
	if err != nil {
		hb.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// GetReservation handles GET /api/reservations/:id.
func (hb *HandlerBundle) GetReservation(c *gin.Context) {
	view, err := hb.Reservations.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		hb.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetSettlementHistory handles GET /api/reservations/:id/history.
func (hb *HandlerBundle) GetSettlementHistory(c *gin.Context) {
	history, err := hb.Reservations.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		hb.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservationId": c.Param("id"), "entries": history})
}

type depositRequest struct {
	Deposit      decimal.Decimal `json:"deposit"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	PayeeAccount string          `json:"payee_account"`
}

// CreateDeposit handles POST /api/reservations/:id/deposit.
func (hb *HandlerBundle) CreateDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "validation_error", "invalid input", err.Error())
		return
	}
	session, err := hb.Reservations.Checkout(c.Request.Context(), c.Param("id"), req.Deposit, req.PlatformFee, req.PayeeAccount)
	if err != nil {
		hb.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

type cancelRequest struct {
	Justification string `json:"justification"`
}

// CancelReservation handles POST /api/reservations/:id/cancel for the actor in X-Actor-ID.
func (hb *HandlerBundle) CancelReservation(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.JSONError(c, http.StatusBadRequest, "validation_error", "invalid input", err.Error())
			return
		}
	}
	result, err := hb.Reservations.Cancel(c.Request.Context(), c.Param("id"), req.Justification, middleware.Actor(c))
	if err != nil {
		hb.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
