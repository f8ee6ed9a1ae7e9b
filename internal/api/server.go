// Package api exposes the meal ledger over a small JSON HTTP surface.
package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Avidan87/KAI-sub000/internal/service"
)

type Options struct {
	CORSOrigins []string
	Log         *zap.Logger
}

type Server struct {
	db     *sql.DB
	deps   service.Deps
	log    *zap.Logger
	engine *gin.Engine
}

func NewServer(db *sql.DB, deps service.Deps, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Log == nil {
		deps.Log = log
	}
	s := &Server{db: db, deps: deps, log: log.Named("api"), engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger(s.log))
	if len(opts.CORSOrigins) > 0 {
		cfg := cors.DefaultConfig()
		cfg.AllowOrigins = opts.CORSOrigins
		cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
		s.engine.Use(cors.New(cfg))
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	users := s.engine.Group("/v1/users/:user")
	{
		users.PUT("/profile", s.putProfile)
		users.GET("/profile", s.getProfile)
		users.GET("/targets", s.getTargets)
		users.POST("/meals", s.postMeal)
		users.GET("/meals/:id", s.getMeal)
		users.DELETE("/meals/:id", s.deleteMeal)
		users.GET("/ledger/:date", s.getLedger)
		users.GET("/stats", s.getStats)
		users.GET("/coaching", s.getCoaching)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// writeError maps service errors onto status codes. Unknown errors are logged and hidden.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTransient):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrMealNotFound),
		errors.Is(err, service.ErrProfileNotFound),
		errors.Is(err, service.ErrFoodNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
