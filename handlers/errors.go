package handlers

import (
	"errors"
	"net/http"

	"shutterbook/models"
	"shutterbook/services/settlement"
	"shutterbook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var statusByCode = map[string]int{
	models.CodeInvalidTransition: http.StatusConflict,
	models.CodePolicyViolation:   http.StatusUnprocessableEntity,
	models.CodeNotFound:          http.StatusNotFound,
	models.CodeForbidden:         http.StatusForbidden,
	models.CodeValidation:        http.StatusBadRequest,
}

// respondError maps service errors onto HTTP responses.
func (hb *HandlerBundle) respondError(c *gin.Context, err error) {
	var engineErr *models.EngineError
	var processorErr *settlement.ProcessorError

	switch {
	case errors.As(err, &engineErr):
		status, ok := statusByCode[engineErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		utils.JSONError(c, status, engineErr.Code, engineErr.Message, "")
	case errors.Is(err, models.ErrNotFound):
		utils.JSONError(c, http.StatusNotFound, models.CodeNotFound, "reservation not found", "")
	case errors.Is(err, models.ErrStaleState):
		utils.JSONError(c, http.StatusConflict, models.CodeInvalidTransition, "reservation changed concurrently, retry", "")
	case errors.As(err, &processorErr):
		utils.JSONError(c, http.StatusBadGateway, "processor_error", "payment processor rejected the request", processorErr.Message)
	default:
		hb.getLogger(c).Error("Request failed", zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, models.CodeInternal, "internal error", "")
	}
}
