package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/UnknownOlympus/odometer/internal/models"
	"github.com/UnknownOlympus/odometer/internal/report"
	"github.com/UnknownOlympus/odometer/internal/spreadsheet"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type rowResponse struct {
	Origin          string   `json:"origin"`
	Destination     string   `json:"destination"`
	DistanceKm      *float64 `json:"distance_km"`
	DurationHours   *float64 `json:"duration_hours"`
	DurationMinutes *float64 `json:"duration_minutes"`
}

type reportResponse struct {
	RunID       string        `json:"run_id"`
	Group       string        `json:"group,omitempty"`
	Destination string        `json:"destination"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Resolved    int           `json:"resolved"`
	Unresolved  int           `json:"unresolved"`
	Rows        []rowResponse `json:"rows"`
}

func toResponse(rep *models.Report) reportResponse {
	rows := make([]rowResponse, 0, len(rep.Rows))
	for _, row := range rep.Rows {
		rows = append(rows, rowResponse{
			Origin:          row.Origin,
			Destination:     row.Destination,
			DistanceKm:      row.DistanceKm(),
			DurationHours:   row.DurationHours(),
			DurationMinutes: row.DurationMinutes(),
		})
	}
	return reportResponse{
		RunID:       rep.RunID.String(),
		Group:       rep.Group,
		Destination: rep.Destination,
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		Resolved:    rep.Resolved(),
		Unresolved:  rep.Unresolved(),
		Rows:        rows,
	}
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	s.log.DebugContext(ctx, "Performing health checks...")

	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			s.log.ErrorContext(ctx, "Health check failed", "error", err)
			c.String(http.StatusServiceUnavailable, "DB ping failed")
			return
		}
	}
	c.String(http.StatusOK, "OK")
}

// distances resolves ?origin=A&origin=B to ?destination=X synchronously.
// format=csv returns the table as CSV instead of JSON.
func (s *Server) distances(c *gin.Context) {
	destination := strings.TrimSpace(c.Query("destination"))
	var origins []string
	for _, origin := range c.QueryArray("origin") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	if destination == "" || len(origins) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "destination and at least one origin are required"})
		return
	}

	s.resolve(c, origins, destination, "")
}

// upload resolves the origins of an uploaded workbook, selected like a batch run.
func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	header, err := c.FormFile("workbook")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workbook file is required"})
		return
	}
	group := strings.TrimSpace(c.PostForm("group"))
	destination := strings.TrimSpace(c.DefaultPostForm("destination", group))
	if group == "" || destination == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group and destination are required"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open workbook"})
		return
	}
	defer file.Close()

	origins, err := spreadsheet.ReadOrigins(file, spreadsheet.Selection{
		Sheet:       c.PostForm("sheet"),
		GroupColumn: c.PostForm("group_column"),
		PlaceColumn: c.PostForm("place_column"),
		Group:       group,
	})
	if err != nil {
		s.log.WarnContext(c.Request.Context(), "Rejected workbook", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	s.resolve(c, origins, destination, group)
}

func (s *Server) resolve(c *gin.Context, origins []string, destination, group string) {
	ctx := c.Request.Context()

	rep, err := s.resolver.ResolveAll(ctx, origins, destination)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to resolve distances", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rep.Group = group

	if s.reports != nil {
		// saved even when the client has gone away
		if err := s.reports.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
			s.log.ErrorContext(ctx, "Failed to store report", "run_id", rep.RunID.String(), "error", err)
		}
	}

	s.render(c, rep)
}

func (s *Server) storedReport(c *gin.Context) {
	if s.reports == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "report storage is not configured"})
		return
	}

	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}

	ctx := c.Request.Context()
	rep, err := s.reports.FetchReport(ctx, runID)
	switch {
	case err == nil:
		s.render(c, rep)
	case s.notFound != nil && errors.Is(err, s.notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
	default:
		s.log.ErrorContext(ctx, "Failed to fetch report", "run_id", runID.String(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch report"})
	}
}

func (s *Server) render(c *gin.Context, rep *models.Report) {
	if c.Query("format") != "csv" {
		c.JSON(http.StatusOK, toResponse(rep))
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+report.FileName("", rep.Group, "csv")+`"`)
	c.Status(http.StatusOK)
	if err := report.WriteCSV(c.Request.Context(), c.Writer, rep); err != nil {
		s.log.ErrorContext(c.Request.Context(), "Failed to write csv response", "error", err)
	}
}
