package api

import (
	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/pkg/models"
)

func (s *Server) createObjection(c *gin.Context) {
	var req models.CreateObjectionRequest
	if !s.bind(c, &req) {
		return
	}
	objection, err := s.svc.Objections.Create(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Created(c, gin.H{"objection": objection}, "Objection submitted successfully")
}

func (s *Server) myObjections(c *gin.Context) {
	rows, err := s.svc.Objections.Mine(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"objections": rows}, len(rows))
}

func (s *Server) govObjections(c *gin.Context) {
	rows, err := s.svc.Objections.AllForGov(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"objections": rows}, len(rows))
}

func (s *Server) setObjectionStatus(c *gin.Context) {
	var req models.UpdateObjectionStatusRequest
	if !s.bind(c, &req) {
		return
	}
	objection, err := s.svc.Objections.UpdateStatus(c.Request.Context(), currentUser(c), c.Param("objection_id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"objection": objection}, "Objection status updated")
}
