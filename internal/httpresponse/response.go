// Package httpresponse is a small stand-in for the teacher's
// github.com/Xushengqwer/gateway response envelope, which is a private
// module unavailable outside its author's org. Same shape (code, message,
// data), reimplemented locally so every HTTP handler keeps a consistent
// envelope without the unresolvable dependency.
package httpresponse

import "github.com/gin-gonic/gin"

// Envelope is the JSON body every handler in this repo returns.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success writes a 200 envelope with data.
func Success(c *gin.Context, data any, message string) {
	c.JSON(200, Envelope{Code: 0, Message: message, Data: data})
}

// Error writes httpStatus with an error envelope. code is an
// application-level error code, distinct from the HTTP status.
func Error(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Envelope{Code: code, Message: message})
}

// Application error codes (kept small and explicit rather than an enum
// package, since this repo only needs a handful).
const (
	ErrCodeClientInvalidInput = 40000
	ErrCodeNotFound           = 40400
	ErrCodeServerInternal     = 50000
)
