package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/labtrend-engine/internal/domain"
	"github.com/labtrend-engine/internal/repository"
)

// reportRequest is the payload of POST /api/v1/reports.
type reportRequest struct {
	PatientID string         `json:"patient_id" binding:"required"`
	Patient   patientPayload `json:"patient"`
	Rows      []rowPayload   `json:"rows" binding:"required,min=1"`
}

type patientPayload struct {
	Sex      string `json:"sex"`
	AgeYears int    `json:"age_years"`
}

type rowPayload struct {
	TestName       string `json:"test_name" binding:"required"`
	Value          string `json:"value" binding:"required"`
	Unit           string `json:"unit"`
	ReferenceRange string `json:"reference_range"`
	Date           string `json:"date" binding:"required"`
}

// classifyRequest is the payload of POST /api/v1/classify.
type classifyRequest struct {
	PatientID string         `json:"patient_id" binding:"required"`
	Patient   patientPayload `json:"patient"`
	Row       rowPayload     `json:"row" binding:"required"`
}

func (p patientPayload) attributes() (domain.PatientAttributes, error) {
	attrs := domain.PatientAttributes{AgeYears: p.AgeYears}
	switch p.Sex {
	case "", "UNKNOWN":
	case string(domain.SexMale), string(domain.SexFemale):
		attrs.Sex = domain.Sex(p.Sex)
	default:
		return attrs, fmt.Errorf("invalid sex %q", p.Sex)
	}
	if p.AgeYears < 0 {
		return attrs, fmt.Errorf("age_years must not be negative")
	}
	return attrs, nil
}

// parseDate accepts a bare date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (r rowPayload) measurement(patientID string) (domain.RawMeasurement, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return domain.RawMeasurement{}, fmt.Errorf("invalid date %q", r.Date)
	}
	m := domain.RawMeasurement{
		TestName:       r.TestName,
		Value:          r.Value,
		Unit:           r.Unit,
		ReferenceRange: r.ReferenceRange,
		PatientID:      patientID,
		Date:           date,
	}
	return m, m.Validate()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"timestamp":        time.Now().UTC(),
		"registry_version": s.registry.Version(),
		"tests":            len(s.registry.Tests()),
	})
}

// handleProcessReport runs a full report through the pipeline and, when an
// archive is configured, persists the outcome.
func (s *Server) handleProcessReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attrs, err := req.Patient.attributes()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows := make([]domain.RawMeasurement, len(req.Rows))
	for i, payload := range req.Rows {
		m, err := payload.measurement(req.PatientID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("row %d: %v", i, err)})
			return
		}
		rows[i] = m
	}

	result, err := s.pipeline.ProcessReport(c.Request.Context(), rows, attrs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.archive != nil {
		if err := s.archive.Save(c.Request.Context(), req.PatientID, result); err != nil {
			// Archiving is an audit concern; the processed result is still
			// returned to the caller.
			s.log.WithError(err).WithField("report_id", result.ReportID).Error("Failed to archive report")
		}
	}

	c.JSON(http.StatusOK, result)
}

// handleClassify classifies one measurement without touching history.
func (s *Server) handleClassify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attrs, err := req.Patient.attributes()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := req.Row.measurement(req.PatientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	row := s.pipeline.Classify(c.Request.Context(), m, attrs)
	c.JSON(http.StatusOK, row)
}

// handleTrend serves the stored trend for one patient and test.
func (s *Server) handleTrend(c *gin.Context) {
	attrs, err := patientPayload{
		Sex:      c.Query("sex"),
		AgeYears: queryInt(c, "age_years"),
	}.attributes()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.pipeline.AnalyzeTrend(c.Request.Context(), c.Param("id"), c.Param("test"), attrs)
	if err != nil {
		status := http.StatusInternalServerError
		switch domain.ErrorKind(err) {
		case domain.ErrKindUnknownTest, domain.ErrKindNoReferenceRange, domain.ErrKindAmbiguousRange:
			status = http.StatusNotFound
		case domain.ErrKindHistoryUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "kind": domain.ErrorKind(err)})
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleListTests serves the canonical test catalog.
func (s *Server) handleListTests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.registry.Version(),
		"tests":   s.registry.Tests(),
	})
}

// handleGetReport serves one archived report summary.
func (s *Server) handleGetReport(c *gin.Context) {
	report, err := s.archive.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleListReports serves the archived report summaries for one patient.
func (s *Server) handleListReports(c *gin.Context) {
	reports, err := s.archive.ListByPatient(c.Request.Context(), c.Param("id"), queryInt(c, "limit"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func queryInt(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	return n
}
