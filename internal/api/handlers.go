package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Avidan87/KAI-sub000/internal/model"
	"github.com/Avidan87/KAI-sub000/internal/service"
)

type profileRequest struct {
	Gender            *string  `json:"gender"`
	Age               *int     `json:"age"`
	Weight            *float64 `json:"weight"`
	WeightUnit        string   `json:"weight_unit"`
	Height            *float64 `json:"height"`
	HeightUnit        string   `json:"height_unit"`
	ActivityLevel     *string  `json:"activity_level"`
	Goal              *string  `json:"goal"`
	TargetWeight      *float64 `json:"target_weight"`
	CustomCalorieGoal *float64 `json:"custom_calorie_goal"`
}

type mealRequest struct {
	LoggedAt *time.Time              `json:"logged_at"`
	Foods    []model.FoodObservation `json:"foods"`
}

func (s *Server) health(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) putProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := service.SetProfile(s.db, service.SetProfileInput{
		UserID:            c.Param("user"),
		Gender:            req.Gender,
		Age:               req.Age,
		Weight:            req.Weight,
		WeightUnit:        req.WeightUnit,
		Height:            req.Height,
		HeightUnit:        req.HeightUnit,
		ActivityLevel:     req.ActivityLevel,
		Goal:              req.Goal,
		TargetWeight:      req.TargetWeight,
		CustomCalorieGoal: req.CustomCalorieGoal,
		Now:               s.now(),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p, "targets": service.CalculateRDV(p)})
}

func (s *Server) getProfile(c *gin.Context) {
	p, err := service.GetProfile(s.db, c.Param("user"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getTargets(c *gin.Context) {
	t, err := service.TargetsForUser(s.db, c.Param("user"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) postMeal(c *gin.Context) {
	var req mealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	in := service.LogMealInput{
		UserID:         c.Param("user"),
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		Observations:   req.Foods,
	}
	if req.LoggedAt != nil {
		in.LoggedAt = *req.LoggedAt
	}
	res, err := service.LogMeal(c.Request.Context(), s.db, s.deps, in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) getMeal(c *gin.Context) {
	m, err := service.GetMeal(s.db, c.Param("user"), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) deleteMeal(c *gin.Context) {
	m, stats, err := service.RemoveMeal(c.Request.Context(), s.db, s.deps, c.Param("user"), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meal": m, "stats": stats})
}

func (s *Server) getLedger(c *gin.Context) {
	l, err := service.GetLedger(s.db, c.Param("user"), c.Param("date"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) getStats(c *gin.Context) {
	st, err := service.GetStats(s.db, c.Param("user"), c.Query("as_of"), s.now())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getCoaching(c *gin.Context) {
	p, err := service.BuildCoaching(c.Request.Context(), s.db, s.deps, service.CoachingInput{
		UserID: c.Param("user"),
		Date:   c.Query("date"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) now() time.Time {
	if s.deps.Now != nil {
		return s.deps.Now()
	}
	return time.Now()
}
