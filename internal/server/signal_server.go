package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/okeyenglish/presence-agent/internal/platform"
)

// SignalRequest is the request body posted by the host application. Exactly
// one field is meaningful per endpoint.
type SignalRequest struct {
	Kind      string `json:"kind,omitempty"` // mouse_move, mouse_click, key_press, scroll, touch
	Visible   *bool  `json:"visible,omitempty"`
	Focused   *bool  `json:"focused,omitempty"`
	OnCall    *bool  `json:"on_call,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// StatusReporter supplies the diagnostic payload for the status endpoint
type StatusReporter interface {
	Status() map[string]interface{}
}

// SignalServer receives activity, visibility, focus and call signals from
// the host application over localhost HTTP and forwards them to the
// platform hub.
type SignalServer struct {
	hub      *platform.Hub
	reporter StatusReporter
	logger   *zap.Logger
}

func NewSignalServer(hub *platform.Hub, reporter StatusReporter, logger *zap.Logger) *SignalServer {
	return &SignalServer{
		hub:      hub,
		reporter: reporter,
		logger:   logger,
	}
}

// ServeHTTP implements http.Handler
func (s *SignalServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.URL.Path {
	case "/api/v1/signals/activity":
		s.post(w, r, s.handleActivity)
	case "/api/v1/signals/visibility":
		s.post(w, r, s.handleVisibility)
	case "/api/v1/signals/call":
		s.post(w, r, s.handleCall)
	case "/api/v1/status":
		if r.Method == http.MethodGet {
			s.handleStatus(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "/api/v1/health":
		if r.Method == http.MethodGet {
			s.handleHealth(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *SignalServer) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *SignalServer) post(w http.ResponseWriter, r *http.Request, handler func(w http.ResponseWriter, req SignalRequest)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("Failed to decode signal request", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	handler(w, req)
}

func (s *SignalServer) handleActivity(w http.ResponseWriter, req SignalRequest) {
	inputType, ok := parseInputType(req.Kind)
	if !ok {
		http.Error(w, "Unknown input kind", http.StatusBadRequest)
		return
	}

	s.hub.EmitInput(inputType)
	s.ok(w)
}

func (s *SignalServer) handleVisibility(w http.ResponseWriter, req SignalRequest) {
	if req.Visible == nil && req.Focused == nil {
		http.Error(w, "Missing visible or focused field", http.StatusBadRequest)
		return
	}

	if req.Visible != nil {
		s.hub.SetVisible(*req.Visible)
	}
	if req.Focused != nil {
		s.hub.SetFocused(*req.Focused)
	}
	s.ok(w)
}

func (s *SignalServer) handleCall(w http.ResponseWriter, req SignalRequest) {
	if req.OnCall == nil {
		http.Error(w, "Missing on_call field", http.StatusBadRequest)
		return
	}

	s.hub.SetOnCall(*req.OnCall)
	s.logger.Debug("Call state signal received", zap.Bool("on_call", *req.OnCall))
	s.ok(w)
}

func (s *SignalServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	payload := map[string]interface{}{"timestamp": time.Now().Unix()}
	if s.reporter != nil {
		for k, v := range s.reporter.Status() {
			payload[k] = v
		}
	}
	json.NewEncoder(w).Encode(payload)
}

func (s *SignalServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *SignalServer) ok(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func parseInputType(kind string) (platform.InputType, bool) {
	switch platform.InputType(kind) {
	case platform.InputMouseMove, platform.InputMouseClick, platform.InputKeyPress,
		platform.InputScroll, platform.InputTouch:
		return platform.InputType(kind), true
	default:
		return "", false
	}
}
