package api

import (
	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/pkg/models"
)

func (s *Server) myListings(c *gin.Context) {
	rows, err := s.svc.Listings.Mine(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"listings": rows}, len(rows))
}

func (s *Server) govListings(c *gin.Context) {
	rows, err := s.svc.Listings.AllForGov(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"listings": rows}, len(rows))
}

func (s *Server) createListing(c *gin.Context) {
	var req models.CreateListingRequest
	if !s.bind(c, &req) {
		return
	}
	listing, err := s.svc.Listings.Create(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Created(c, gin.H{"listing": listing}, "Listing created successfully")
}

func (s *Server) updateListing(c *gin.Context) {
	var req models.UpdateListingRequest
	if !s.bind(c, &req) {
		return
	}
	listing, err := s.svc.Listings.Update(c.Request.Context(), currentUser(c), c.Param("listing_id"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"listing": listing}, "Listing updated successfully")
}

func (s *Server) deleteListing(c *gin.Context) {
	if err := s.svc.Listings.Delete(c.Request.Context(), currentUser(c), c.Param("listing_id")); err != nil {
		s.fail(c, err)
		return
	}
	responses.Message(c, "Listing deleted successfully")
}
