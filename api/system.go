package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/pkg/errors"
)

const defaultMaxUploadMB = 10

// Version is set at build time
var Version = "dev"

var (
	errNoFile   = errors.Invalid.Reason("NO_FILE").Explain("No file provided")
	errTooLarge = errors.TooLarge.Reason("FILE_TOO_LARGE")
)

// health is not wrapped in the response envelope so load balancers can read it directly
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	db := "ok"
	if err := database.Ping(ctx, s.svc.DB); err != nil {
		status, code, db = "degraded", http.StatusServiceUnavailable, "unreachable"
	}
	ledger := "disabled"
	if s.svc.LedgerEnabled {
		ledger = "configured"
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"checks": gin.H{
			"api":      "operational",
			"database": db,
			"ledger":   ledger,
		},
	})
}

func (s *Server) upload(c *gin.Context) {
	if s.svc.Uploader == nil {
		s.fail(c, errUnavailable.Explain("File uploads are not configured"))
		return
	}
	maxMB := s.cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMB<<20)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, errTooLarge.Explain("File exceeds the %d MB limit", maxMB))
			return
		}
		s.fail(c, errNoFile)
		return
	}
	file, err := header.Open()
	if err != nil {
		s.fail(c, errNoFile.Wrap(err))
		return
	}
	defer file.Close()

	result, err := s.svc.Uploader.Upload(c.Request.Context(), header.Filename, file)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, result)
}

func (s *Server) events(c *gin.Context) {
	if s.svc.Hub == nil {
		s.fail(c, errUnavailable.Explain("Live events are not enabled"))
		return
	}
	s.svc.Hub.ServeWS(c.Writer, c.Request)
}
