package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/labtrend-engine/internal/domain"
)

// PatientParams carries the optional patient attributes common to all tools.
type PatientParams struct {
	Sex      string `json:"sex,omitempty"`
	AgeYears int    `json:"age_years,omitempty"`
}

func (p PatientParams) attributes() (domain.PatientAttributes, error) {
	attrs := domain.PatientAttributes{AgeYears: p.AgeYears}
	switch p.Sex {
	case "", "UNKNOWN":
	case string(domain.SexMale), string(domain.SexFemale):
		attrs.Sex = domain.Sex(p.Sex)
	default:
		return attrs, fmt.Errorf("invalid sex %q", p.Sex)
	}
	return attrs, nil
}

// RowParams is one measurement row in a tool call.
type RowParams struct {
	TestName string `json:"test_name"`
	Value    string `json:"value"`
	Unit     string `json:"unit,omitempty"`
	Date     string `json:"date"`
}

func (r RowParams) measurement(patientID string) (domain.RawMeasurement, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		if date, err = time.Parse(time.RFC3339, r.Date); err != nil {
			return domain.RawMeasurement{}, fmt.Errorf("invalid date %q", r.Date)
		}
	}
	m := domain.RawMeasurement{
		TestName:  r.TestName,
		Value:     r.Value,
		Unit:      r.Unit,
		PatientID: patientID,
		Date:      date,
	}
	return m, m.Validate()
}

// ProcessReportParams are the arguments of the process_report tool.
type ProcessReportParams struct {
	PatientID string        `json:"patient_id"`
	Patient   PatientParams `json:"patient,omitempty"`
	Rows      []RowParams   `json:"rows"`
}

// ClassifyMeasurementParams are the arguments of the classify_measurement
// tool.
type ClassifyMeasurementParams struct {
	PatientID string        `json:"patient_id"`
	Patient   PatientParams `json:"patient,omitempty"`
	Row       RowParams     `json:"row"`
}

// AnalyzeTrendParams are the arguments of the analyze_trend tool.
type AnalyzeTrendParams struct {
	PatientID string        `json:"patient_id"`
	TestName  string        `json:"test_name"`
	Patient   PatientParams `json:"patient,omitempty"`
}

func (s *Server) handleProcessReport(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.WithField("tool", "process_report").Info("Tool invoked")

	var params ProcessReportParams
	raw, _ := req.Params.Arguments.(json.RawMessage)
	if err := json.Unmarshal(raw, &params); err != nil {
		return s.errorResult("Invalid parameters", err), nil
	}
	if params.PatientID == "" {
		return s.errorResult("Missing parameter", fmt.Errorf("patient_id is required")), nil
	}
	if len(params.Rows) == 0 {
		return s.errorResult("Missing parameter", fmt.Errorf("rows must not be empty")), nil
	}

	attrs, err := params.Patient.attributes()
	if err != nil {
		return s.errorResult("Invalid parameters", err), nil
	}

	rows := make([]domain.RawMeasurement, len(params.Rows))
	for i, r := range params.Rows {
		m, err := r.measurement(params.PatientID)
		if err != nil {
			return s.errorResult(fmt.Sprintf("Invalid row %d", i), err), nil
		}
		rows[i] = m
	}

	result, err := s.pipeline.ProcessReport(ctx, rows, attrs)
	if err != nil {
		return s.errorResult("Report processing failed", err), nil
	}
	return s.jsonResult(result)
}

func (s *Server) handleClassifyMeasurement(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.WithField("tool", "classify_measurement").Info("Tool invoked")

	var params ClassifyMeasurementParams
	raw, _ := req.Params.Arguments.(json.RawMessage)
	if err := json.Unmarshal(raw, &params); err != nil {
		return s.errorResult("Invalid parameters", err), nil
	}
	if params.PatientID == "" {
		return s.errorResult("Missing parameter", fmt.Errorf("patient_id is required")), nil
	}

	attrs, err := params.Patient.attributes()
	if err != nil {
		return s.errorResult("Invalid parameters", err), nil
	}
	m, err := params.Row.measurement(params.PatientID)
	if err != nil {
		return s.errorResult("Invalid row", err), nil
	}

	row := s.pipeline.Classify(ctx, m, attrs)
	return s.jsonResult(row)
}

func (s *Server) handleAnalyzeTrend(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.WithField("tool", "analyze_trend").Info("Tool invoked")

	var params AnalyzeTrendParams
	raw, _ := req.Params.Arguments.(json.RawMessage)
	if err := json.Unmarshal(raw, &params); err != nil {
		return s.errorResult("Invalid parameters", err), nil
	}
	if params.PatientID == "" || params.TestName == "" {
		return s.errorResult("Missing parameter", fmt.Errorf("patient_id and test_name are required")), nil
	}

	attrs, err := params.Patient.attributes()
	if err != nil {
		return s.errorResult("Invalid parameters", err), nil
	}

	record, err := s.pipeline.AnalyzeTrend(ctx, params.PatientID, params.TestName, attrs)
	if err != nil {
		return s.errorResult("Trend analysis failed", err), nil
	}
	return s.jsonResult(record)
}

func (s *Server) handleListTests(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logger.WithField("tool", "list_tests").Info("Tool invoked")

	return s.jsonResult(map[string]any{
		"version": s.registry.Version(),
		"tests":   s.registry.Tests(),
	})
}

// jsonResult renders a value as pretty-printed JSON text content.
func (s *Server) jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.errorResult("Failed to encode result", err), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// errorResult renders a tool failure without failing the protocol call.
func (s *Server) errorResult(message string, err error) *mcp.CallToolResult {
	s.logger.WithError(err).Warn(message)
	body := map[string]string{"error": fmt.Sprintf("%s: %v", message, err)}
	if kind := domain.ErrorKind(err); kind != "" {
		body["kind"] = kind
	}
	data, _ := json.Marshal(body)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}
