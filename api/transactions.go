package api

import (
	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/pkg/models"
)

func (s *Server) myTransactions(c *gin.Context) {
	rows, err := s.svc.Transactions.Mine(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"transactions": rows}, len(rows))
}

func (s *Server) govTransactions(c *gin.Context) {
	rows, err := s.svc.Transactions.AllForGov(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.List(c, gin.H{"transactions": rows}, len(rows))
}

func (s *Server) getTransaction(c *gin.Context) {
	tx, err := s.svc.Transactions.Get(c.Request.Context(), currentUser(c), c.Param("transaction_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"transaction": tx})
}

func (s *Server) purchase(c *gin.Context) {
	var req models.PurchaseRequest
	if !s.bind(c, &req) {
		return
	}
	resp, err := s.svc.Transactions.Purchase(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	msg := "Purchase completed successfully"
	if resp.Listing.Type == models.ListingLease {
		msg = "Lease completed successfully"
	}
	responses.Success(c, resp, msg)
}

func (s *Server) initiate(c *gin.Context) {
	var req models.InitiateRequest
	if !s.bind(c, &req) {
		return
	}
	tx, err := s.svc.Transactions.Initiate(c.Request.Context(), currentUser(c), req.ListingID)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Created(c, gin.H{"transaction": tx}, "Transaction initiated")
}

func (s *Server) completeTransaction(c *gin.Context) {
	var req models.CompleteRequest
	if !s.bind(c, &req) {
		return
	}
	tx, err := s.svc.Transactions.Complete(c.Request.Context(), currentUser(c), c.Param("transaction_id"), req.TransactionHash)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"transaction": tx}, "Transaction completed")
}

// failTransaction accepts an empty body; the reason is optional
func (s *Server) failTransaction(c *gin.Context) {
	var req models.FailRequest
	if c.Request.ContentLength != 0 && !s.bind(c, &req) {
		return
	}
	tx, err := s.svc.Transactions.Fail(c.Request.Context(), currentUser(c), c.Param("transaction_id"), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"transaction": tx}, "Transaction marked as failed")
}
