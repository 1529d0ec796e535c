package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// SuccessResponse is the envelope every successful handler writes; data is
// the handler's payload, and for a mutation it carries the post-mutation
// revision.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

func respondJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, NewAPIError("ERROR", message, status))
}

func respondErrorWithDetails(c *gin.Context, status int, message, code string, details map[string]interface{}) {
	c.JSON(status, NewAPIErrorWithDetails(code, message, status, details))
}

func respondAPIError(c *gin.Context, err error) {
	apiErr := TranslateError(err)
	c.JSON(apiErr.HTTPStatus, apiErr)
}

// respondAPIErrorWithRequestID tags the error payload with the request id so
// a client report can be matched against server logs.
func respondAPIErrorWithRequestID(c *gin.Context, err error) {
	apiErr := TranslateError(err)
	if apiErr.Details == nil {
		apiErr.Details = make(map[string]interface{})
	}
	apiErr.Details["request_id"] = GetRequestID(c)
	c.JSON(apiErr.HTTPStatus, apiErr)
}

// bindJSON decodes the request body into obj and writes the 400 response
// itself on failure, flattening validator errors into one readable line.
func bindJSON(c *gin.Context, obj interface{}) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				msgs = append(msgs, fmt.Sprintf("%s is required", field))
			case "oneof":
				msgs = append(msgs, fmt.Sprintf("%s must be one of %s", field, fe.Param()))
			case "max":
				msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
			default:
				msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
			}
		}
		respondError(c, http.StatusBadRequest, strings.Join(msgs, "; "))
	} else {
		respondAPIError(c, ErrInvalidJSON)
	}
	return err
}

func getParam(c *gin.Context, name string) (string, bool) {
	value := c.Param(name)
	if value == "" {
		respondAPIErrorWithRequestID(c, NewAPIError("MISSING_PARAMETER", name+" is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}
