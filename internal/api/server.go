package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webcheckup/webcheckup/internal/api/middleware"
	"github.com/webcheckup/webcheckup/internal/domain/chat"
	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// ownerHeader names the header carrying the caller's identity. Ownership is
// enforced on every checkup and check access.
const ownerHeader = "X-Owner-ID"

type CheckupCreateRequest struct {
	URL string `json:"url"`
}

type MessageCreateRequest struct {
	Question      string `json:"question"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

type CheckupResponse struct {
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	OwnerID   string          `json:"owner_id"`
	CreatedAt time.Time       `json:"created_at"`
	Checks    []CheckResponse `json:"checks,omitempty"`
}

type CheckResponse struct {
	ID                 string         `json:"id"`
	CheckupID          string         `json:"checkup_id"`
	Type               string         `json:"check_type"`
	Status             string         `json:"status"`
	Results            map[string]any `json:"results,omitempty"`
	ResultsDescription string         `json:"results_description,omitempty"`
}

type MessageResponse struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	Content       string    `json:"content"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	Sender        string    `json:"sender"`
	CreatedAt     time.Time `json:"created_at"`
}

// CheckupService fronts the checkup orchestrator.
type CheckupService interface {
	StartCheckup(ctx context.Context, rawURL, ownerID string) (*checkup.Checkup, error)
	CheckupForOwner(ctx context.Context, checkupID, ownerID string) (*checkup.Checkup, error)
	CheckForOwner(ctx context.Context, checkupID, checkID, ownerID string) (*checkup.Check, error)
	CheckupsByOwner(ctx context.Context, ownerID string) ([]*checkup.Checkup, error)
}

// ConversationService fronts the chat flows attached to completed checks.
type ConversationService interface {
	Messages(ctx context.Context, checkupID, checkID, ownerID string) ([]*chat.Message, error)
	Send(ctx context.Context, req ConversationRequest) (*chat.Message, error)
	SendStream(ctx context.Context, req ConversationRequest) (<-chan string, <-chan error, error)
	ClearHistory(ctx context.Context, checkupID, checkID, ownerID string) (int64, error)
}

// ConversationRequest carries one user turn through the API boundary.
type ConversationRequest struct {
	CheckupID     string
	CheckID       string
	OwnerID       string
	Question      string
	AttachmentURL string
}

type HealthService interface {
	Check(ctx context.Context) error
	Ready(ctx context.Context) error
}

type Config struct {
	Checkups      CheckupService
	Conversations ConversationService
	Health        HealthService
	AuthToken     string
	Logger        *zap.Logger
	CORSOrigins   []string // Allowed CORS origins (empty = allow all)
	RateLimit     int      // Requests per second per IP (0 = disabled)
	RateBurst     int      // Burst size for rate limiter
}

type Server struct {
	cfg      Config
	mux      *http.ServeMux
	limiters *rateLimiterMap
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		limiters: newRateLimiterMap(),
	}
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Middleware chain: RequestID -> Logging -> RateLimit -> CORS -> Handler
	handler := middleware.RequestID(s.withLogging(s.withRateLimit(s.withCORS(s.mux))))
	handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.Handle("/api/v1/health", s.withAuth(http.HandlerFunc(s.handleHealth)))
	s.mux.Handle("/api/v1/ready", s.withAuth(http.HandlerFunc(s.handleReady)))
	s.mux.Handle("/api/v1/checkups", s.withAuth(http.HandlerFunc(s.handleCheckups)))
	s.mux.Handle("/api/v1/checkups/", s.withAuth(http.HandlerFunc(s.handleCheckupSubtree)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Check(r.Context()); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Ready(r.Context()); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCheckups(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.cfg.Checkups.CheckupsByOwner(r.Context(), ownerID)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		resp := make([]CheckupResponse, 0, len(items))
		for _, cu := range items {
			resp = append(resp, toCheckupResponse(cu))
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, 1048576) // 1MB limit
		var req CheckupCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		cu, err := s.cfg.Checkups.StartCheckup(r.Context(), req.URL, ownerID)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		// Checks are dispatched, not finished: the caller polls for results.
		writeJSON(w, http.StatusAccepted, toCheckupResponse(cu))
	default:
		s.methodNotAllowed(w, r)
	}
}

// handleCheckupSubtree routes everything under /api/v1/checkups/:
//
//	{id}
//	{id}/checks/{checkID}
//	{id}/checks/{checkID}/messages
func (s *Server) handleCheckupSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/checkups/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleCheckupByID(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "checks":
		s.handleCheckByID(w, r, parts[0], parts[2])
	case len(parts) == 4 && parts[1] == "checks" && parts[3] == "messages":
		s.handleMessages(w, r, parts[0], parts[2])
	default:
		s.writeError(w, r, http.StatusNotFound, errors.New("not found"))
	}
}

func (s *Server) handleCheckupByID(w http.ResponseWriter, r *http.Request, checkupID string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	cu, err := s.cfg.Checkups.CheckupForOwner(r.Context(), checkupID, ownerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckupResponse(cu))
}

func (s *Server) handleCheckByID(w http.ResponseWriter, r *http.Request, checkupID, checkID string) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	chk, err := s.cfg.Checkups.CheckForOwner(r.Context(), checkupID, checkID, ownerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckResponse(chk))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, checkupID, checkID string) {
	if s.cfg.Conversations == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("conversation service not available"))
		return
	}
	ownerID, ok := s.ownerID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		messages, err := s.cfg.Conversations.Messages(r.Context(), checkupID, checkID, ownerID)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		resp := make([]MessageResponse, 0, len(messages))
		for _, m := range messages {
			resp = append(resp, toMessageResponse(m))
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, 1048576) // 1MB limit
		var req MessageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		convReq := ConversationRequest{
			CheckupID:     checkupID,
			CheckID:       checkID,
			OwnerID:       ownerID,
			Question:      req.Question,
			AttachmentURL: req.AttachmentURL,
		}
		if req.Stream {
			s.streamAnswer(w, r, convReq)
			return
		}
		answer, err := s.cfg.Conversations.Send(r.Context(), convReq)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toMessageResponse(answer))
	case http.MethodDelete:
		if _, err := s.cfg.Conversations.ClearHistory(r.Context(), checkupID, checkID, ownerID); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.methodNotAllowed(w, r)
	}
}

// streamAnswer relays assistant chunks as server-sent events.
func (s *Server) streamAnswer(w http.ResponseWriter, r *http.Request, req ConversationRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	chunks, errs, err := s.cfg.Conversations.SendStream(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	for {
		select {
		case part, ok := <-chunks:
			if !ok {
				if !s.writeStreamChunk(w, []byte("event: done\ndata: {}\n\n")) {
					return
				}
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(map[string]string{"content": part})
			if err != nil {
				continue
			}
			if !s.writeStreamChunk(w, []byte("event: chunk\n")) {
				return
			}
			if !s.writeStreamChunk(w, []byte("data: ")) {
				return
			}
			if !s.writeStreamChunk(w, payload) {
				return
			}
			if !s.writeStreamChunk(w, []byte("\n\n")) {
				return
			}
			flusher.Flush()
		case err := <-errs:
			if err != nil {
				s.requestLogger(r).Error("answer stream failed", zap.Error(err))
				payload, _ := json.Marshal(map[string]string{"error": "stream failed"})
				if s.writeStreamChunk(w, []byte("event: error\ndata: ")) &&
					s.writeStreamChunk(w, payload) {
					s.writeStreamChunk(w, []byte("\n\n"))
				}
				flusher.Flush()
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// ownerID extracts the caller identity or rejects the request.
func (s *Server) ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := strings.TrimSpace(r.Header.Get(ownerHeader))
	if ownerID == "" {
		s.writeError(w, r, http.StatusBadRequest, sharedErrors.ErrEmptyOwner)
		return "", false
	}
	return ownerID, true
}

// writeDomainError maps domain sentinel errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sharedErrors.ErrCheckupNotFound),
		errors.Is(err, sharedErrors.ErrCheckNotFound),
		errors.Is(err, sharedErrors.ErrChatNotFound),
		errors.Is(err, sharedErrors.ErrMessageNotFound):
		s.writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, sharedErrors.ErrCheckupForbidden):
		s.writeError(w, r, http.StatusForbidden, err)
	case errors.Is(err, sharedErrors.ErrCheckNotCompleted),
		errors.Is(err, sharedErrors.ErrInvalidTargetURL),
		errors.Is(err, sharedErrors.ErrEmptyOwner),
		errors.Is(err, sharedErrors.ErrEmptyContent),
		errors.Is(err, sharedErrors.ErrQuestionTooLong),
		errors.Is(err, sharedErrors.ErrValidation):
		s.writeError(w, r, http.StatusBadRequest, err)
	default:
		s.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func toCheckupResponse(cu *checkup.Checkup) CheckupResponse {
	resp := CheckupResponse{
		ID:        cu.ID(),
		URL:       cu.URL(),
		OwnerID:   cu.OwnerID(),
		CreatedAt: cu.CreatedAt(),
	}
	for _, chk := range cu.Checks() {
		resp.Checks = append(resp.Checks, toCheckResponse(chk))
	}
	return resp
}

func toCheckResponse(chk *checkup.Check) CheckResponse {
	return CheckResponse{
		ID:                 chk.ID(),
		CheckupID:          chk.CheckupID(),
		Type:               string(chk.Type()),
		Status:             string(chk.Status()),
		Results:            chk.Results(),
		ResultsDescription: chk.ResultsDescription(),
	}
}

func toMessageResponse(m *chat.Message) MessageResponse {
	return MessageResponse{
		ID:            m.ID(),
		ChatID:        m.ChatID(),
		Content:       m.Content(),
		AttachmentURL: m.AttachmentURL(),
		Sender:        string(m.Sender()),
		CreatedAt:     m.CreatedAt(),
	}
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		// Extract client IP (handle X-Forwarded-For for proxied requests)
		clientIP := r.RemoteAddr
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			if idx := strings.Index(forwarded, ","); idx > 0 {
				clientIP = strings.TrimSpace(forwarded[:idx])
			} else {
				clientIP = strings.TrimSpace(forwarded)
			}
		}
		// Remove port if present; bare addresses (IPv6 included) pass through
		if host, _, err := net.SplitHostPort(clientIP); err == nil {
			clientIP = host
		}

		limiter := s.limiters.getLimiter(clientIP, s.cfg.RateLimit, s.cfg.RateBurst)
		if !limiter.Allow() {
			if s.cfg.Logger != nil {
				s.requestLogger(r).Warn("rate_limit_exceeded",
					zap.String("client_ip", clientIP),
				)
			}
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowOrigin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			allowed := false
			for _, allowedOrigin := range s.cfg.CORSOrigins {
				if allowedOrigin == origin {
					allowed = true
					allowOrigin = origin
					break
				}
			}
			if !allowed {
				allowOrigin = ""
			}
		}

		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, X-Owner-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		duration := time.Since(start)
		if s.cfg.Logger != nil {
			requestID := middleware.GetRequestID(r.Context())
			s.cfg.Logger.Info("http_request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", lrw.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("bytes", lrw.bytesWritten),
			)
		}
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code and bytes written
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += int64(n)
	return n, err
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// Sanitize error messages to prevent information disclosure
	msg := err.Error()
	if status >= 500 {
		if s.cfg.Logger != nil {
			s.requestLogger(r).Error("internal_server_error",
				zap.Error(err),
				zap.Int("status", status),
			)
		}
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger creates a logger with request context (request ID, method, path)
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if s.cfg.Logger == nil {
		return zap.NewNop()
	}

	requestID := middleware.GetRequestID(r.Context())
	return s.cfg.Logger.With(
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (s *Server) writeStreamChunk(w http.ResponseWriter, data []byte) bool {
	if _, err := w.Write(data); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("failed to write stream chunk", zap.Error(err))
		}
		return false
	}
	return true
}

// rateLimiterMap manages per-IP rate limiters with automatic cleanup
type rateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[string]*ipLimiter
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterMap() *rateLimiterMap {
	m := &rateLimiterMap{
		limiters: make(map[string]*ipLimiter),
	}
	go m.cleanupLoop()
	return m
}

func (m *rateLimiterMap) getLimiter(ip string, rps, burst int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, exists := m.limiters[ip]
	if !exists {
		limiter = &ipLimiter{
			limiter:  rate.NewLimiter(rate.Limit(rps), burst),
			lastSeen: time.Now(),
		}
		m.limiters[ip] = limiter
	} else {
		limiter.lastSeen = time.Now()
	}

	return limiter.limiter
}

// cleanupLoop removes limiters that haven't been used in 5 minutes
func (m *rateLimiterMap) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		for ip, limiter := range m.limiters {
			if time.Since(limiter.lastSeen) > 5*time.Minute {
				delete(m.limiters, ip)
			}
		}
		m.mu.Unlock()
	}
}
