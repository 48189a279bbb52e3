package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/freshmart/pkg/apperrors"
)

// fail aborts the request with the JSON error body for err.
func fail(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{
		"error":   apperrors.CodeOf(err),
		"message": err.Error(),
	}

	var ve *apperrors.ValidationError
	var ise *apperrors.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		body["details"] = ise.Items
	case errors.As(err, &ve) && len(ve.Fields) > 0:
		body["details"] = ve.Fields
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		if apperrors.CodeOf(err) == apperrors.CodeInternal {
			body["message"] = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string, fields ...string) {
	fail(c, &apperrors.ValidationError{Fields: fields, Message: message})
}
