package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/api/responses"
	"github.com/terrahash/landregistry/internal/identities"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
)

// sessionView is what the UI learns about the current session
type sessionView struct {
	UserID    string          `json:"user_id"`
	Wallet    string          `json:"wallet_address"`
	Type      models.UserType `json:"type"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge time.Duration) {
	sessions := s.svc.Identities.Sessions()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessions.CookieName(), token, int(maxAge.Seconds()), "/", "", sessions.Secure(), true)
}

func (s *Server) checkWallet(c *gin.Context) {
	resp, err := s.svc.Identities.CheckWallet(c.Request.Context(), c.Query("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	responses.Success(c, resp)
}

func (s *Server) register(c *gin.Context) {
	var req models.RegisterRequest
	if !s.bind(c, &req) {
		return
	}
	auth, err := s.svc.Identities.Register(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.setSessionCookie(c, auth.Token, s.svc.Identities.Sessions().MaxAge())
	responses.Created(c, gin.H{"user": auth.User, "token": auth.Token}, "Registration successful")
}

func (s *Server) login(c *gin.Context) {
	var req models.LoginRequest
	if !s.bind(c, &req) {
		return
	}
	auth, err := s.svc.Identities.Login(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.setSessionCookie(c, auth.Token, s.svc.Identities.Sessions().MaxAge())
	responses.Success(c, gin.H{"user": auth.User, "token": auth.Token}, "Login successful")
}

// logout always clears the cookie; a token that no longer parses has nothing to revoke
func (s *Server) logout(c *gin.Context) {
	ctx := c.Request.Context()
	if claims, err := s.svc.Identities.Authenticate(ctx, s.sessionToken(c)); err == nil {
		if err := s.svc.Identities.Logout(ctx, claims); err != nil {
			s.fail(c, err)
			return
		}
	}
	s.setSessionCookie(c, "", -time.Second)
	responses.Message(c, "Logged out successfully")
}

// session reports the current session, or null when there is none
func (s *Server) session(c *gin.Context) {
	_, claims, err := s.resolveSession(c)
	if err != nil {
		if errors.Is(err, identities.ErrNotAuthenticated) {
			responses.Success(c, gin.H{"session": nil})
			return
		}
		s.fail(c, err)
		return
	}
	responses.Success(c, gin.H{"session": sessionView{
		UserID:    claims.UserID,
		Wallet:    claims.Wallet,
		Type:      claims.Type,
		ExpiresAt: claims.ExpiresAt.Time,
	}})
}

func (s *Server) me(c *gin.Context) {
	responses.Success(c, gin.H{"user": currentUser(c)})
}
