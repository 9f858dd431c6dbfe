package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"capture-uploader/dto"
	"capture-uploader/service"
)

const identityKey = "identity"

var ErrMissingClaims = errors.New("token lacks organization or coach")

// Claims is what a device token carries about its coach.
type Claims struct {
	OrganizationId string `json:"org_id"`
	CoachId        string `json:"coach_id"`
	jwt.RegisteredClaims
}

// IssueToken signs a device token for a coach.
func IssueToken(secret string, caller service.Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		OrganizationId: caller.OrganizationId,
		CoachId:        caller.CoachId,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.CoachId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (service.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return service.Identity{}, err
	}
	if claims.OrganizationId == "" || claims.CoachId == "" {
		return service.Identity{}, ErrMissingClaims
	}
	return service.Identity{OrganizationId: claims.OrganizationId, CoachId: claims.CoachId}, nil
}

func authenticate(secret string, metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			metrics.denied("unauthenticated")
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing bearer token"})
			return
		}

		caller, err := parseToken(secret, raw)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("rejected token")
			metrics.denied("unauthenticated")
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token"})
			return
		}

		logger := zerolog.Ctx(c.Request.Context()).With().Str("coach_id", caller.CoachId).Str("organization_id", caller.OrganizationId).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Set(identityKey, caller)
		c.Next()
	}
}

func identityFrom(c *gin.Context) service.Identity {
	caller, _ := c.MustGet(identityKey).(service.Identity)
	return caller
}
