package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"receiptsync/internal/errors"
	"receiptsync/internal/middleware"
	"receiptsync/internal/models"
	"receiptsync/internal/service"
	"receiptsync/internal/tracing"
	"receiptsync/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const defaultHealthTimeout = 2 * time.Second

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg           models.ServerConfig
	router        *mux.Router
	logger        *logrus.Logger
	dispatcher    *service.Dispatcher
	health        HealthChecker
	errLog        *errors.Logger
	limiter       *RateLimiter
	ingestSecret  string
	healthTimeout time.Duration

	// verbose lets request logs carry unmasked addresses
	verbose bool
	server  *http.Server
}

func NewServer(cfg models.ServerConfig, dispatcher *service.Dispatcher, health HealthChecker, ingestSecret string, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:           cfg,
		router:        mux.NewRouter(),
		logger:        logger,
		dispatcher:    dispatcher,
		health:        health,
		errLog:        &errors.Logger{Logger: logger},
		limiter:       NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		ingestSecret:  ingestSecret,
		healthTimeout: defaultHealthTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.cfg.TrustProxyHeaders))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimit, s.requireSignature)

	ingest := func(surface string, h http.HandlerFunc) http.Handler {
		return middleware.IngestMiddleware(s.logger, surface)(h)
	}
	api.Handle("/receipts/recipient", ingest("recipient", s.handleRecipientReceipts())).Methods(http.MethodPost)
	api.Handle("/receipts/linked-device", ingest("linked_device", s.handleLinkedDeviceReceipts())).Methods(http.MethodPost)
	api.Handle("/messages/{id:[0-9]+}/read", ingest("local_read", s.handleMessageRead())).Methods(http.MethodPost)
	api.Handle("/threads/{id}/read-before", ingest("bulk_read", s.handleReadBefore())).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.handleInsertMessage()).Methods(http.MethodPost)
	api.HandleFunc("/threads/{id}/accept", s.handleAcceptMessageRequest()).Methods(http.MethodPost)
	api.HandleFunc("/settings/read-receipts", s.handleGetReadReceipts()).Methods(http.MethodGet)
	api.HandleFunc("/settings/read-receipts", s.handleSetReadReceipts()).Methods(http.MethodPut)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithValue(context.Background(), service.VerboseContextKey, s.verbose)
		},
	}

	s.logger.WithField("port", s.cfg.Port).Info("Starting ingest server")
	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type insertMessageRequest struct {
	ThreadID              string           `json:"threadId"`
	Direction             models.Direction `json:"direction"`
	Sender                string           `json:"sender"`
	Timestamp             uint64           `json:"timestamp"`
	PendingMessageRequest *bool            `json:"pendingMessageRequest,omitempty"`
}

type messageReadRequest struct {
	OnLinkedDevice        bool `json:"onLinkedDevice"`
	PendingMessageRequest bool `json:"pendingMessageRequest"`
}

type readBeforeRequest struct {
	SortID                   int64 `json:"sortId"`
	HasPendingMessageRequest bool  `json:"hasPendingMessageRequest"`
}

type readReceiptsSetting struct {
	ReadReceiptsEnabled *bool `json:"readReceiptsEnabled"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
		defer cancel()

		if err := s.health.Ping(ctx); err != nil {
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = errors.NewTimeoutError("database ping", s.healthTimeout.String())
			}
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleRecipientReceipts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch models.RecipientBatch
		if err := s.decodeJSON(w, r, &batch); err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.dispatcher.Dispatch(r.Context(), models.ReceiptEvent{
			Kind:      models.KindRecipientIncoming,
			Recipient: &batch,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleLinkedDeviceReceipts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire models.ReadSyncWire
		if err := s.decodeJSON(w, r, &wire); err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.dispatcher.ProcessReadSync(r.Context(), wire)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleInsertMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req insertMessageRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		msg := &models.Message{
			ThreadID:  req.ThreadID,
			Direction: req.Direction,
			Sender:    req.Sender,
			Timestamp: req.Timestamp,
		}
		if err := s.dispatcher.InsertMessage(r.Context(), msg, req.PendingMessageRequest); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]int64{"id": msg.ID})
	}
}

func (s *Server) handleMessageRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawID := mux.Vars(r)["id"]
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			s.writeError(w, r, errors.NewValidationError("id", rawID, "not a message id"))
			return
		}

		var req messageReadRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		result, err := s.dispatcher.Dispatch(r.Context(), models.ReceiptEvent{
			Kind: models.KindLocalRead,
			LocalRead: &models.LocalRead{
				MessageID:    id,
				Circumstance: models.CircumstanceFor(req.OnLinkedDevice, req.PendingMessageRequest),
			},
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, result)
	}
}

// handleReadBefore starts a bulk mark read. With ?wait=true the response is
// held until the operation completed.
func (s *Server) handleReadBefore() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req readBeforeRequest
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		thread := &models.Thread{ID: mux.Vars(r)["id"], HasPendingMessageRequest: req.HasPendingMessageRequest}
		wait := r.URL.Query().Get("wait") == "true"
		requestID := tracing.GetRequestID(r.Context())

		done := make(chan error, 1)
		s.dispatcher.MarkAsReadLocallyBeforeSortID(r.Context(), req.SortID, thread, req.HasPendingMessageRequest, func(err error) {
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					service.LogFieldRequestID: requestID,
					service.LogFieldThreadID:  thread.ID,
					service.LogFieldSortID:    req.SortID,
				}).WithError(err).Warn("Bulk mark read did not complete")
			}
			done <- err
		})

		if !wait {
			s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
			return
		}

		select {
		case err := <-done:
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
		case <-r.Context().Done():
			// the operation continues, only the caller stopped waiting
		}
	}
}

func (s *Server) handleAcceptMessageRequest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		released, err := s.dispatcher.MessageRequestAccepted(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"released": released})
	}
}

func (s *Server) handleGetReadReceipts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, err := s.dispatcher.AreReadReceiptsEnabled(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, readReceiptsSetting{ReadReceiptsEnabled: &enabled})
	}
}

func (s *Server) handleSetReadReceipts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req readReceiptsSetting
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.ReadReceiptsEnabled == nil {
			s.writeError(w, r, errors.NewValidationError("readReceiptsEnabled", "", "value is required"))
			return
		}

		_, err := s.dispatcher.Dispatch(r.Context(), models.ReceiptEvent{
			Kind:       models.KindConfigSync,
			ConfigSync: &models.ConfigSync{ReadReceiptsEnabled: *req.ReadReceiptsEnabled},
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, req)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, s.cfg.MaxRequestBytes); err != nil {
		return err
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "malformed request body").
			WithUserMessage("Malformed request body")
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := errors.As(err); ok {
		errors.WithContextFromRequest(appErr, r.Context())
	}
	s.errLog.LogRejection(err, "Request failed", logrus.Fields{
		service.LogFieldMethod: r.Method,
		service.LogFieldRoute:  r.URL.Path,
	})
	s.writeJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}
