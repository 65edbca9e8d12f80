package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"salesflow/cleaner"
	"salesflow/config"
	"salesflow/models"
	"salesflow/pipeline"
	"salesflow/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.menu.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListMenu(c *gin.Context) {
	items, err := s.menu.ListMenu(c.Request.Context())
	if err != nil {
		s.serverError(c, err, "failed to list menu")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleAddMenuItem(c *gin.Context) {
	var item models.MenuItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.menu.AddMenuItem(c.Request.Context(), item)
	if err != nil {
		s.menuError(c, err, "failed to add menu item")
		return
	}
	item.ID = id
	c.JSON(http.StatusCreated, item)
}

func (s *Server) handleUpdateMenuItem(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid menu item id"})
		return
	}

	var item models.MenuItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item.ID = id

	if err := s.menu.UpdateMenuItem(c.Request.Context(), item); err != nil {
		s.menuError(c, err, "failed to update menu item")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleDeleteMenuItem(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid menu item id"})
		return
	}

	if err := s.menu.DeleteMenuItem(c.Request.Context(), id); err != nil {
		s.menuError(c, err, "failed to delete menu item")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCategories(c *gin.Context) {
	categories, err := s.menu.Categories(c.Request.Context())
	if err != nil {
		s.serverError(c, err, "failed to list categories")
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (s *Server) handleDashboard(c *gin.Context) {
	filter, err := parseOrderFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.runner.Run(c.Request.Context(), pipeline.Request{Filter: filter})
	if err != nil {
		s.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleForecast(c *gin.Context) {
	filter, err := parseOrderFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	horizon := s.defaults.HorizonDays
	if v := c.Query("horizon"); v != "" {
		horizon, err = strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid horizon"})
			return
		}
	}
	if horizon != config.HorizonWeek && horizon != config.HorizonMonth {
		c.JSON(http.StatusBadRequest, gin.H{"error": "horizon must be 7 or 30"})
		return
	}

	result, err := s.runner.Run(c.Request.Context(), pipeline.Request{
		Filter:      filter,
		HorizonDays: horizon,
	})
	if err != nil {
		s.pipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func parseOrderFilter(c *gin.Context) (store.OrderFilter, error) {
	var filter store.OrderFilter

	if v := c.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, errors.New("invalid 'from' date, expected YYYY-MM-DD")
		}
		filter.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, errors.New("invalid 'to' date, expected YYYY-MM-DD")
		}
		// Inclusive end of day.
		t = t.Add(24*time.Hour - time.Nanosecond)
		filter.To = &t
	}
	if v := c.Query("categories"); v != "" {
		filter.Categories = splitParam(v)
	}
	if v := c.Query("items"); v != "" {
		filter.Items = splitParam(v)
	}
	filter.SearchTerm = c.Query("q")

	return filter, nil
}

func splitParam(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// menuError maps store failures: a rejected payload is the client's fault, a
// missing item is 404, anything else is a database problem and stays 500.
func (s *Server) menuError(c *gin.Context, err error, msg string) {
	var validation *store.ValidationError
	var notFound *store.NotFoundError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.serverError(c, err, msg)
	}
}

// pipelineError maps pipeline failures to responses with enough context to
// render a precise user-visible message.
func (s *Server) pipelineError(c *gin.Context, err error) {
	var insufficient *cleaner.InsufficientDataError
	if errors.As(err, &insufficient) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":          insufficient.Error(),
			"remaining":      insufficient.Remaining,
			"distinct_dates": insufficient.DistinctDates,
			"min_dates":      insufficient.MinDates,
		})
		return
	}
	s.serverError(c, err, "pipeline run failed")
}

func (s *Server) serverError(c *gin.Context, err error, msg string) {
	s.log.WithComponent("server").WithError(err).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
