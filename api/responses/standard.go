// Package responses writes the JSON envelope shared by every API route.
package responses

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/pkg/errors"
)

// StandardResponse is the success envelope
type StandardResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Count   *int   `json:"count,omitempty"`
}

// ErrorResponse is the failure envelope
type ErrorResponse struct {
	Success bool          `json:"success"`
	Error   *errors.Error `json:"error"`
}

// Success sends a 200 with data and an optional message
func Success(c *gin.Context, data any, message ...string) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: data, Message: first(message)})
}

// Created sends a 201
func Created(c *gin.Context, data any, message ...string) {
	c.JSON(http.StatusCreated, StandardResponse{Success: true, Data: data, Message: first(message)})
}

// List sends a collection together with its length
func List(c *gin.Context, data any, count int) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: data, Count: &count})
}

// Message sends a 200 without data
func Message(c *gin.Context, message string) {
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: message})
}

var internalError = errors.Internal.Explain("Internal server error")

// Error maps err onto its status and envelope. Server side failures are
// logged; errors without a registry kind are answered with a generic body.
func Error(c *gin.Context, log *zap.Logger, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}

	var body *errors.Error
	if !errors.As(err, &body) {
		status, body = http.StatusInternalServerError, internalError
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Success: false, Error: body})
}

func first(s []string) string {
	if len(s) > 0 {
		return s[0]
	}
	return ""
}
