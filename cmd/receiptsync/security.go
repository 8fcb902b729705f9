package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"receiptsync/internal/constants"
	"receiptsync/internal/errors"
	"receiptsync/internal/httputil"
	"receiptsync/internal/metrics"
	"receiptsync/internal/service"
)

// verifySignature checks the "sha256=<hex>" HMAC of the request body and
// restores the body for the handler. Without a secret every request passes,
// except in production where a secret is mandatory.
func verifySignature(r *http.Request, secretKey string) error {
	if secretKey == "" {
		if os.Getenv(constants.EnvironmentEnv) == "production" {
			return fmt.Errorf("ingest secret is required in production mode")
		}
		return nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	signatureHeader := r.Header.Get(constants.IngestSignatureHeader)
	if signatureHeader == "" {
		return fmt.Errorf("missing signature header: %s", constants.IngestSignatureHeader)
	}

	scheme, expectedHex, ok := strings.Cut(signatureHeader, "=")
	if !ok || strings.ToLower(scheme) != "sha256" {
		return fmt.Errorf("invalid signature format in header %s", constants.IngestSignatureHeader)
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	computedHex := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computedHex), []byte(strings.ToLower(expectedHex))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
		if err := verifySignature(r, s.ingestSecret); err != nil {
			metrics.IncrementCounter("ingest_signature_failures_total", nil, "Requests rejected for a bad signature")
			s.logger.WithField(service.LogFieldRemoteIP, httputil.GetClientIP(r, s.cfg.TrustProxyHeaders)).
				WithError(err).Warn("Rejected unsigned ingest request")
			s.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "invalid ingest signature").
				WithUserMessage("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimitPerMinute < 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow(httputil.GetClientIP(r, s.cfg.TrustProxyHeaders)) {
			metrics.IncrementCounter("ingest_rate_limited_total", nil, "Requests rejected by the rate limiter")
			w.Header().Set("Retry-After", "60")
			s.writeError(w, r, errors.New(errors.ErrCodeRateLimited, "rate limit exceeded").
				WithUserMessage("Too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
