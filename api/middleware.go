package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/terrahash/landregistry/internal/identities"
	"github.com/terrahash/landregistry/pkg/errors"
	"github.com/terrahash/landregistry/pkg/models"
)

const (
	userKey   = "user"
	claimsKey = "claims"
)

var errForbidden = errors.Forbidden.Explain("You do not have access to this resource")

// sessionToken reads the session cookie, falling back to a bearer token
func (s *Server) sessionToken(c *gin.Context) string {
	if token, err := c.Cookie(s.svc.Identities.Sessions().CookieName()); err == nil && token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

// resolveSession loads the caller behind the request, if any
func (s *Server) resolveSession(c *gin.Context) (*models.User, *identities.Claims, error) {
	ctx := c.Request.Context()
	claims, err := s.svc.Identities.Authenticate(ctx, s.sessionToken(c))
	if err != nil {
		return nil, nil, err
	}
	user, err := s.svc.Identities.Me(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// requireSession rejects requests without a valid session
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, claims, err := s.resolveSession(c)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(userKey, user)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// requireType must run after requireSession
func (s *Server) requireType(types ...models.UserType) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil {
			s.fail(c, identities.ErrNotAuthenticated)
			return
		}
		for _, t := range types {
			if user.Type == t {
				c.Next()
				return
			}
		}
		s.fail(c, errForbidden.Explain("Only %s users can access this resource", types[0]))
	}
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}
