// Package api serves the read-only dashboard over the listings store.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MikeTolmachev/porsche-monitor/internal/db"
	"github.com/MikeTolmachev/porsche-monitor/internal/filter"
	"github.com/MikeTolmachev/porsche-monitor/internal/models"
)

type Server struct {
	Store    *db.Store
	Criteria filter.Criteria
	Echo     *echo.Echo
}

func NewServer(store *db.Store, criteria filter.Criteria) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		Store:    store,
		Criteria: criteria,
		Echo:     e,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/healthz", s.handleHealth)
	api := s.Echo.Group("/api")
	api.GET("/listings", s.handleListings)
	api.GET("/summary", s.handleSummary)
	api.GET("/listings/:source/:id/history", s.handlePriceHistory)
	api.GET("/runs", s.handleRuns)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type listingView struct {
	models.Listing
	IsMatch           bool     `json:"is_match"`
	Score             int      `json:"score"`
	Reasons           []string `json:"reasons,omitempty"`
	NiceToHavePresent []string `json:"nice_to_have_present,omitempty"`
	FirstSeen         string   `json:"first_seen"`
	LastSeen          string   `json:"last_seen"`
}

// handleListings returns every stored listing re-evaluated against the
// current criteria. ?matches=true narrows the response to matches.
func (s *Server) handleListings(c echo.Context) error {
	stored, err := s.Store.GetAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	matchesOnly := c.QueryParam("matches") == "true"

	views := make([]listingView, 0, len(stored))
	for _, row := range stored {
		l := row.Listing()
		fr := filter.Evaluate(l, s.Criteria)
		if matchesOnly && !fr.IsMatch {
			continue
		}
		views = append(views, listingView{
			Listing:           l,
			IsMatch:           fr.IsMatch,
			Score:             fr.Score,
			Reasons:           fr.Reasons,
			NiceToHavePresent: fr.NiceToHavePresent,
			FirstSeen:         row.FirstSeen,
			LastSeen:          row.LastSeen,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleSummary(c echo.Context) error {
	ctx := c.Request().Context()

	total, err := s.Store.Count(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	bySource, err := s.Store.SourcesSummary(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":     total,
		"by_source": bySource,
	})
}

func (s *Server) handlePriceHistory(c echo.Context) error {
	source := c.Param("source")
	id := c.Param("id")

	points, err := s.Store.PriceHistory(c.Request().Context(), source, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if len(points) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no price history for " + source + "/" + id})
	}
	return c.JSON(http.StatusOK, points)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = n
	}

	runs, err := s.Store.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}
