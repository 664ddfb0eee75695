package response

import (
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error sends an error response. An optional cause is logged and echoed in
// the error field.
func Error(c *gin.Context, code int, message string, errs ...error) {
	resp := Response{
		Code:    code,
		Message: message,
	}
	if len(errs) > 0 && errs[0] != nil {
		resp.Error = errs[0].Error()
		_ = c.Error(errs[0])
		entry := log.WithError(errs[0]).WithFields(log.Fields{"path": c.Request.URL.Path, "status": code})
		if code >= 500 {
			entry.Error(message)
		} else {
			entry.Debug(message)
		}
	}
	c.AbortWithStatusJSON(code, resp)
}

// BadRequest sends a 400 bad request response
func BadRequest(c *gin.Context, message string, errs ...error) {
	Error(c, 400, message, errs...)
}

// NotFound sends a 404 not found response
func NotFound(c *gin.Context, message string, errs ...error) {
	Error(c, 404, message, errs...)
}

// InternalError sends a 500 internal server error response
func InternalError(c *gin.Context, message string, errs ...error) {
	Error(c, 500, message, errs...)
}

// Unavailable sends a 503 service unavailable response
func Unavailable(c *gin.Context, message string, errs ...error) {
	Error(c, 503, message, errs...)
}
