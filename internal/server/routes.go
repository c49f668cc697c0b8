package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Ingest
	mux.HandleFunc("/api/ingest", s.app.IngestHandler.IngestHandler) // POST - upload files, start a job

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and /stream

	// API routes - Reports
	mux.HandleFunc("/api/reports/", s.handleReportRoutes) // Handles /api/reports/{id}, /pdf, /html
	mux.HandleFunc("/api/analysis/", s.app.ReportHandler.GetAnalysisHandler)

	// API routes - Chat
	mux.HandleFunc("/api/chat", s.app.ChatHandler.ChatHandler) // POST - question over a job's documents

	// API routes - System
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.StatusHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/jobs/{id}/stream
	if strings.HasSuffix(path, "/stream") {
		s.app.JobHandler.StreamJobHandler(w, r)
		return
	}

	// GET /api/jobs/{id}
	s.app.JobHandler.GetJobHandler(w, r)
}

// handleReportRoutes routes report requests by export suffix
func (s *Server) handleReportRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/reports/{id}/pdf
	if strings.HasSuffix(path, "/pdf") {
		s.app.ReportHandler.PDFReportHandler(w, r)
		return
	}

	// GET /api/reports/{id}/html
	if strings.HasSuffix(path, "/html") {
		s.app.ReportHandler.HTMLReportHandler(w, r)
		return
	}

	// GET /api/reports/{id}
	s.app.ReportHandler.GetReportHandler(w, r)
}
