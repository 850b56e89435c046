package api

import (
	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/pkg/models"
)

func (s *Server) listWhitelists(c *gin.Context) {
	rows, err := s.svc.Identities.ListWhitelists(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"whitelists": rows}, len(rows))
}

func (s *Server) addGovUser(c *gin.Context) {
	var req models.AddGovUserRequest
	if !s.bind(c, &req) {
		return
	}
	user, err := s.svc.Identities.AddGovUser(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Created(c, gin.H{"user": user}, "Government user added")
}

// setWhitelistStatus takes user_id from the query string, or the body
func (s *Server) setWhitelistStatus(c *gin.Context) {
	var req models.UpdateWhitelistRequest
	if !s.bind(c, &req) {
		return
	}
	if id := c.Query("user_id"); id != "" {
		req.UserID = id
	}
	entry, err := s.svc.Identities.SetWhitelistStatus(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"whitelist": entry}, "Whitelist updated")
}
