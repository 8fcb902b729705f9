package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"receiptsync/internal/metrics"
	"receiptsync/internal/service"
	"receiptsync/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics serves the metrics registry as JSON, or in the Prometheus
// text format for ?format=prometheus or an Accept header asking for text/plain.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		if r.URL.Query().Get("format") == "prometheus" || strings.Contains(r.Header.Get("Accept"), "text/plain") {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			if err := metrics.WritePrometheus(w); err != nil {
				s.logger.WithField(service.LogFieldRequestID, requestID).
					WithError(err).Error("Failed to write prometheus metrics")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(metrics.GetAllMetrics()); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: requestID,
			}).WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
