package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"capture-uploader/dto"
	"capture-uploader/service"
)

type RouterDependencies struct {
	Grants    service.GrantService
	JwtSecret string
	Logger    zerolog.Logger
	Registry  *prometheus.Registry
}

func NewRouter(deps RouterDependencies) *gin.Engine {
	metrics := NewMetrics(deps.Registry)

	r := gin.New()
	r.Use(gin.Recovery(), withLogger(deps.Logger), metrics.instrument())
	addHealth(r)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	uploads := r.Group("/v1/uploads", authenticate(deps.JwtSecret, metrics))
	uploads.POST("/grant", grantHandler(deps.Grants, metrics))
	uploads.POST("/delete", deleteHandler(deps.Grants, metrics))

	return r
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
}

func withLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := logger.With().Str("path", c.Request.URL.Path).Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
		c.Next()
	}
}

func grantHandler(grants service.GrantService, metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.GrantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.denied("bad_request")
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}

		grant, err := grants.IssueUploadGrant(c.Request.Context(), identityFrom(c), req)
		if err != nil {
			status, reason := classify(err)
			metrics.denied(reason)
			c.JSON(status, dto.ErrorResponse{Error: err.Error()})
			return
		}

		metrics.issued(req.ContentType)
		c.JSON(http.StatusOK, grant)
	}
}

func deleteHandler(grants service.GrantService, metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.DeleteObjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			metrics.denied("bad_request")
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}

		if err := grants.DeleteObject(c.Request.Context(), identityFrom(c), req.Key); err != nil {
			status, reason := classify(err)
			metrics.denied(reason)
			c.JSON(status, dto.ErrorResponse{Error: err.Error()})
			return
		}

		metrics.objectsDeleted.Inc()
		c.Status(http.StatusNoContent)
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
