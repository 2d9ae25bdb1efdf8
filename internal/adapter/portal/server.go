// Package portal serves the credential form while the device runs its
// provisioning access point.
package portal

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang-wifiprov/internal/pkg/logging"
	"golang-wifiprov/internal/pkg/metrics"
	"golang-wifiprov/internal/types"
)

// Form field names
const (
	FieldSSID     = "ssid"
	FieldPassword = "password"
	FieldAPIKey   = "openai_key"
)

var (
	//go:embed assets/form.html
	formPage []byte

	//go:embed assets/success.html
	successPage []byte
)

// Server is the provisioning HTTP endpoint. It serves only between Start and
// Stop.
type Server struct {
	listen  string
	maxBody int64
	metrics *metrics.Collector

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	session *Session
	done    chan struct{}
}

// NewServer creates a server for listen. Request bodies of maxBody bytes or
// more are rejected.
func NewServer(listen string, maxBody int64, collector *metrics.Collector) *Server {
	return &Server{
		listen:  listen,
		maxBody: maxBody,
		metrics: collector,
	}
}

// Handler returns the routes of the endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleForm)
	mux.HandleFunc("GET /favicon.ico", s.handleFavicon)
	mux.HandleFunc("POST /configure", s.handleConfigure)
	return mux
}

// Start begins serving submissions into session.
func (s *Server) Start(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("portal already running")
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listen, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	done := make(chan struct{})

	s.srv = srv
	s.ln = ln
	s.session = session
	s.done = done

	logger := logging.WithComponent("portal").WithFields(map[string]interface{}{
		"addr":    ln.Addr().String(),
		"session": session.ID,
	})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Portal stopped serving")
		}
	}()

	logger.Info("Portal started")
	return nil
}

// Addr returns the bound address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the server down, waiting for in-flight requests until ctx is
// done. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln, s.session, s.done = nil, nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		srv.Close()
	}
	<-done

	logging.WithComponent("portal").Info("Portal stopped")
	return err
}

func (s *Server) currentSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Server) handleForm(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(formPage) //nolint:errcheck
}

func (s *Server) handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/x-icon")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithComponent("portal").WithField("remote", r.RemoteAddr)

	record, err := s.readSubmission(r)
	if err != nil {
		logger.WithError(err).Warn("Rejected submission")
		s.metrics.Submission("rejected")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	session := s.currentSession()
	if session == nil {
		s.metrics.Submission("rejected")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	if err := session.Offer(record); err != nil {
		logger.WithError(err).Warn("Submission refused")
		s.metrics.Submission("conflict")
		http.Error(w, "Conflict", http.StatusConflict)
		return
	}

	logger.WithFields(map[string]interface{}{
		"ssid":    record.SSID,
		"has_key": record.APIKey != "",
	}).Info("Accepted credentials")
	s.metrics.Submission("accepted")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(successPage) //nolint:errcheck
}

func (s *Server) readSubmission(r *http.Request) (types.CredentialRecord, error) {
	if r.ContentLength >= s.maxBody {
		return types.CredentialRecord{}, fmt.Errorf("%w: body of %d bytes", types.ErrBadRequest, r.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody))
	if err != nil {
		return types.CredentialRecord{}, fmt.Errorf("%w: read body: %v", types.ErrBadRequest, err)
	}
	if int64(len(body)) >= s.maxBody {
		return types.CredentialRecord{}, fmt.Errorf("%w: body exceeds %d bytes", types.ErrBadRequest, s.maxBody-1)
	}

	return ParseSubmission(body)
}

// ParseSubmission decodes an application/x-www-form-urlencoded body into a
// record. All three fields must be present and ssid must not be empty.
func ParseSubmission(body []byte) (types.CredentialRecord, error) {
	if len(body) == 0 {
		return types.CredentialRecord{}, fmt.Errorf("%w: empty body", types.ErrBadRequest)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return types.CredentialRecord{}, fmt.Errorf("%w: %v", types.ErrBadRequest, err)
	}

	for _, field := range []string{FieldSSID, FieldPassword, FieldAPIKey} {
		if !values.Has(field) {
			return types.CredentialRecord{}, fmt.Errorf("%w: missing field %q", types.ErrBadRequest, field)
		}
	}

	record := types.CredentialRecord{
		SSID:     values.Get(FieldSSID),
		Password: values.Get(FieldPassword),
		APIKey:   values.Get(FieldAPIKey),
	}
	if record.SSID == "" {
		return types.CredentialRecord{}, fmt.Errorf("%w: empty ssid", types.ErrBadRequest)
	}
	if err := record.Validate(); err != nil {
		return types.CredentialRecord{}, fmt.Errorf("%w: %v", types.ErrBadRequest, err)
	}
	return record, nil
}
