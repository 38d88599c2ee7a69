package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"i4.energy/across/atrt/client"
	"i4.energy/across/atrt/internal/metrics"
	"i4.energy/across/atrt/sms"
)

// Server handles incoming HTTP requests for interacting with the configured
// modem client, generalized from the teacher's Server (which held a
// *modem.Modem directly) onto the new *client.Client engine.
type Server struct {
	Logger *slog.Logger
	Client *client.Client
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sms", s.handleSendSMS)
	mux.HandleFunc("GET /signal", s.handleSignal)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}
	type errorResponse struct {
		Message string `json:"message"`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{Message: message})
}

func (s *Server) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	type smsRequest struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}

	var req smsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	res, err := sms.Send(r.Context(), s.Client, req.To, req.Message)
	if err != nil {
		metrics.SMSFailed.Inc()
		s.Logger.Error("sms send failed", "error", err, "to", req.To)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.SMSSent.Inc()
	s.Logger.Info("sms sent", "to", req.To, "message_length", len(req.Message), "reference", res.Reference)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"reference": res.Reference})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	out, err := s.Client.Send(r.Context(), sms.CheckSignal())
	if err != nil {
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	parsed, err := sms.CheckSignal().(interface {
		ParseResponse([]byte) (any, error)
	}).ParseResponse(out.Body)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(parsed.(sms.SignalQuality))
}
