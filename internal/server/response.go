package server

import (
	"github.com/gin-gonic/gin"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status  string            `json:"status"`
	Data    interface{}       `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

func respond(c *gin.Context, code int, data interface{}) {
	c.JSON(code, Response{Status: statusSuccess, Data: data})
}

func respondError(c *gin.Context, code int, message string, fields map[string]string) {
	c.AbortWithStatusJSON(code, Response{Status: statusError, Message: message, Errors: fields})
}
