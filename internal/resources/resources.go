// Package resources implements MCP resource handlers for indexbridge.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (wal://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HendryAvila/indexbridge/internal/scheduler"
	"github.com/HendryAvila/indexbridge/internal/wal"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

// StatisticsURI addresses the WAL statistics resource.
const StatisticsURI = "wal://statistics"

// StatsSource reports WAL record counts.
type StatsSource interface {
	Statistics() (wal.Stats, error)
}

// JobLister describes the scheduled maintenance jobs.
type JobLister interface {
	State() scheduler.State
	Jobs() []scheduler.JobInfo
}

// Handler manages WAL resource endpoints.
type Handler struct {
	stats StatsSource
	jobs  JobLister
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(stats StatsSource, jobs JobLister) *Handler {
	return &Handler{stats: stats, jobs: jobs}
}

// Statistics is the JSON document served at StatisticsURI.
type Statistics struct {
	Stats     wal.Stats           `json:"stats"`
	Scheduler string              `json:"scheduler"`
	Jobs      []scheduler.JobInfo `json:"jobs"`
}

// StatisticsResource returns the MCP resource definition for WAL statistics.
func (h *Handler) StatisticsResource() mcp.Resource {
	return mcp.NewResource(
		StatisticsURI,
		"WAL Statistics",
		mcp.WithResourceDescription("Write-ahead log operation counts by status, and the maintenance job schedule"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatistics returns the current WAL statistics as JSON.
func (h *Handler) HandleStatistics(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.stats.Statistics()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	var doc = Statistics{Stats: stats, Scheduler: h.jobs.State().String(), Jobs: h.jobs.Jobs()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.WithMessage(err, "marshaling statistics")
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
