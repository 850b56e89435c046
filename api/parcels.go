package api

import (
	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/pkg/models"
)

func (s *Server) listParcels(c *gin.Context) {
	filter := models.ParcelFilter{
		Status: models.ParcelStatus(c.Query("status")),
		Search: c.Query("search"),
		UserID: c.Query("user_id"),
	}
	rows, err := s.svc.Parcels.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"parcels": rows}, len(rows))
}

func (s *Server) getParcel(c *gin.Context) {
	parcel, err := s.svc.Parcels.Get(c.Request.Context(), c.Param("parcel_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"parcel": parcel})
}

func (s *Server) publicList(c *gin.Context) {
	var query models.PublicListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		s.fail(c, errInvalidBody.Explain("Invalid query parameters"))
		return
	}
	if err := s.validator.ValidateStruct(&query); err != nil {
		s.fail(c, err)
		return
	}
	result, err := s.svc.Parcels.PublicList(c.Request.Context(), query)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, result, len(result.Parcels))
}

func (s *Server) createParcel(c *gin.Context) {
	var req models.CreateParcelRequest
	if !s.bind(c, &req) {
		return
	}
	parcel, err := s.svc.Parcels.Create(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Created(c, gin.H{"parcel": parcel}, "Parcel created successfully")
}

func (s *Server) updateParcel(c *gin.Context) {
	var req models.UpdateParcelRequest
	if !s.bind(c, &req) {
		return
	}
	parcel, err := s.svc.Parcels.Update(c.Request.Context(), currentUser(c), c.Param("parcel_id"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"parcel": parcel}, "Parcel updated successfully")
}

func (s *Server) setParcelStatus(c *gin.Context) {
	var req models.SetParcelStatusRequest
	if !s.bind(c, &req) {
		return
	}
	parcel, err := s.svc.Parcels.SetStatus(c.Request.Context(), currentUser(c), c.Param("parcel_id"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"parcel": parcel}, "Parcel status updated")
}

func (s *Server) deleteParcel(c *gin.Context) {
	if err := s.svc.Parcels.Delete(c.Request.Context(), currentUser(c), c.Param("parcel_id")); err != nil {
		s.fail(c, err)
		return
	}
	responses.Message(c, "Parcel deleted successfully")
}
