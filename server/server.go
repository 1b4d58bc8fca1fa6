// Package server provides the REST front end for the archive pipeline. It is
// a thin dispatch layer: it checks the challenge secret, decodes the request,
// and hands it to an Archiver. The set of request kinds is closed; each route
// decodes into its own typed payload.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/facebookgo/httpdown"
	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/bagger/archive"
	"github.com/ndlib/bagger/util"
)

// Version of the bagger server.
const Version = "1.0.0"

// SecretHeader is the request header carrying the challenge secret.
const SecretHeader = "X-Challenge-Secret"

// A Server holds the configuration for a bagger REST server. Set the public
// fields and then call Run. Do not change any fields after calling Run.
type Server struct {
	// PortNumber to listen on. Defaults to 14000.
	PortNumber string

	// Secret is the challenge secret clients must present on mutating
	// requests. Empty disables the check.
	Secret string

	// Archiver processes the archive requests. Run panics if it is nil.
	Archiver *archive.Archiver

	// MaxInFlight bounds the number of archive requests processed at
	// once; further requests wait. Defaults to 4.
	MaxInFlight int

	server httpdown.Server // used to close our listening socket
	gate   util.Gate       // bounds concurrent archive requests
}

// Run listens on the configured port and handles requests until Stop is
// called or the listener fails.
func (s *Server) Run() error {
	log.Printf("Starting bagger server version %s", Version)
	if s.Archiver == nil {
		panic("No archiver given. Archiver is nil.")
	}
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}
	if s.MaxInFlight <= 0 {
		s.MaxInFlight = 4
	}
	s.gate = util.NewGate(s.MaxInFlight)
	log.Printf("Listening on port %s", s.PortNumber)

	h := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: time.Minute,
	}
	srv, err := h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.routes(),
	})
	if err != nil {
		return err
	}
	s.server = srv
	return srv.Wait()
}

// Stop closes the listening socket and drains in-flight requests.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Stop()
	}
	return nil
}

func (s *Server) routes() http.Handler {
	r := httprouter.New()
	r.GET("/", s.WelcomeHandler)
	r.GET("/ping", s.PingHandler)
	r.POST("/archive", s.ArchiveHandler)
	return r
}

// WelcomeHandler identifies the service and its version.
func (s *Server) WelcomeHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"name":    "bagger",
		"version": Version,
	})
}

// PingHandler is the liveness check.
func (s *Server) PingHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	fmt.Fprintln(w, "pong")
}

// ArchiveHandler runs one archive request end to end and returns the result
// record. A failed pipeline maps to a 500 with the error message in the
// body; the caller does not need the entries to classify the outcome.
func (s *Server) ArchiveHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.Secret != "" && r.Header.Get(SecretHeader) != s.Secret {
		http.Error(w, "invalid challenge secret", http.StatusUnauthorized)
		return
	}
	var req archive.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "cannot decode request: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.gate.Enter()
	result := s.Archiver.Process(req)
	s.gate.Leave()

	w.Header().Set("Content-Type", "application/json")
	if !result.Success {
		log.Printf("archive failed (%s): %s", result.Kind, result.Error)
		raven.CaptureError(errors.New(result.Error), map[string]string{"Kind": result.Kind})
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(result)
}
