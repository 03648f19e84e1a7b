package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// errorBody is the uniform error envelope returned by every endpoint.
type errorBody struct {
	ErrorCode        string            `json:"error_code"`
	Message          string            `json:"message"`
	Detail           string            `json:"detail,omitempty"`
	ValidationErrors map[string]string `json:"validation_errors,omitempty"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorBody{ErrorCode: code, Message: message})
}

func respondErrorDetail(c *gin.Context, status int, code, message, detail string) {
	c.JSON(status, errorBody{ErrorCode: code, Message: message, Detail: detail})
}

// respondBindError surfaces gin binding failures as 400 with a per-field
// list when the failure came from struct validation.
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, errorBody{
			ErrorCode:        "VALIDATION",
			Message:          "request body failed validation",
			ValidationErrors: fields,
		})
		return
	}
	c.JSON(http.StatusBadRequest, errorBody{
		ErrorCode: "VALIDATION",
		Message:   "malformed request body",
		Detail:    err.Error(),
	})
}
