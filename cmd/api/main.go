package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"follow-harvester/adapters"
	"follow-harvester/extractor"
	"follow-harvester/internal/types"
	"follow-harvester/utils"
)

const requestTimeout = 30 * time.Minute

// HarvestRequest represents the request body for POST /harvest
type HarvestRequest struct {
	Targets []types.Target `json:"targets"`
}

// ProfilesRequest represents the request body for POST /profiles
type ProfilesRequest struct {
	Usernames []string `json:"usernames"`
}

// APIResponse represents the response from the API
type APIResponse struct {
	Success   bool        `json:"success"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// harvester is what the handlers need from the extractor
type harvester interface {
	HarvestAll(ctx context.Context, targets []types.Target) []*types.HarvestResult
	FetchProfiles(ctx context.Context, usernames []string) ([]types.Profile, error)
}

// Server holds the API server configuration
type Server struct {
	logger    *logrus.Logger
	config    *types.Config
	extractor harvester
	closer    func()
}

// NewServer creates a new API server
func NewServer() *Server {
	// Load .env file if present
	_ = godotenv.Load()

	// Setup logging
	logger := logrus.New()

	// Set timestamp format with milliseconds
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if level, err := logrus.ParseLevel(levelStr); err == nil {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Create configuration
	config := types.DefaultConfig()

	ext := extractor.NewInstagramExtractor(config, logger)
	cookies := utils.ParseCookieString(os.Getenv("COOKIES"), adapters.CookieDomain)
	if path := os.Getenv("COOKIES_FILE"); path != "" {
		loaded, err := utils.LoadCookies(path)
		if err != nil {
			logger.Warnf("Failed to load cookie file %s: %v", path, err)
		} else {
			cookies = loaded
		}
	}
	ext.SetCookies(cookies)
	logger.Infof("Loaded %d cookies", len(cookies))

	return &Server{
		logger:    logger,
		config:    config,
		extractor: ext,
		closer:    ext.Close,
	}
}

// handleHarvest handles the harvest API endpoint
func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r) {
		return
	}
	requestID := uuid.NewString()
	logger := s.logger.WithField("request_id", requestID)

	// Parse request body
	var req HarvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, requestID, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Validate request
	if len(req.Targets) == 0 {
		s.sendError(w, requestID, "No targets provided", http.StatusBadRequest)
		return
	}
	for i := range req.Targets {
		req.Targets[i].Subject = strings.TrimPrefix(strings.TrimSpace(req.Targets[i].Subject), "@")
		if req.Targets[i].Kind == "" {
			req.Targets[i].Kind = types.Followers
		}
	}

	logger.Infof("Harvest request received for %d target(s)", len(req.Targets))

	// The request context cancels running sessions when the client goes away
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	results := s.extractor.HarvestAll(ctx, req.Targets)
	s.sendSuccess(w, requestID, results)
}

// handleProfiles handles the profile API endpoint
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r) {
		return
	}
	requestID := uuid.NewString()
	logger := s.logger.WithField("request_id", requestID)

	var req ProfilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, requestID, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Usernames) == 0 {
		s.sendError(w, requestID, "No usernames provided", http.StatusBadRequest)
		return
	}

	logger.Infof("Profile request received for %d username(s)", len(req.Usernames))

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	profiles, err := s.extractor.FetchProfiles(ctx, req.Usernames)
	if err != nil && len(profiles) == 0 {
		logger.Warnf("Profile request failed: %v", err)
		s.sendError(w, requestID, err.Error(), http.StatusBadGateway)
		return
	}
	s.sendSuccess(w, requestID, profiles)
}

// preflight sets the common headers and reports whether the request should be handled
func (s *Server) preflight(w http.ResponseWriter, r *http.Request) bool {
	// Set CORS headers
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}

	// Only allow POST requests
	if r.Method != http.MethodPost {
		s.sendError(w, "", "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) sendSuccess(w http.ResponseWriter, requestID string, data interface{}) {
	response := APIResponse{
		Success:   true,
		RequestID: requestID,
		Data:      data,
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, requestID, message string, statusCode int) {
	response := APIResponse{
		Success:   false,
		RequestID: requestID,
		Error:     message,
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Errorf("Failed to encode error response: %v", err)
	}
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// Routes returns the API handler
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/harvest", s.handleHarvest)
	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start starts the API server
func (s *Server) Start(port string) error {
	s.logger.Infof("Starting API server on port %s", port)
	s.logger.Info("Available endpoints:")
	s.logger.Info("  POST /harvest  - Harvest follower/following lists")
	s.logger.Info("  POST /profiles - Fetch profile biographies and privacy")
	s.logger.Info("  GET  /health   - Health check")

	return http.ListenAndServe(":"+port, s.Routes())
}

// Close closes the server and cleanup resources
func (s *Server) Close() {
	if s.closer != nil {
		s.closer()
	}
}

func main() {
	// Get port from environment variable, default to 8080
	serverPort := "8080"
	if envPort := os.Getenv("API_PORT"); envPort != "" {
		serverPort = envPort
		fmt.Printf("Using port from environment variable API_PORT: %s\n", serverPort)
	} else {
		fmt.Printf("No API_PORT environment variable found, using default: %s\n", serverPort)
	}

	// Create and start server
	server := NewServer()
	defer server.Close()

	// Start the server
	if err := server.Start(serverPort); err != nil {
		server.Close()
		server.logger.Fatal(err)
	}
}
