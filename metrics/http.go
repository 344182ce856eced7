// Package prometheus serves this node's metrics and health endpoints,
// mirrored from the teacher's own metrics service (shared/prometheus):
// the same /metrics, /healthz and /goroutinez routes, with /healthz backed
// by a HealthChecker this package doesn't implement itself rather than the
// teacher's generic ServiceRegistry.
package prometheus

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "prometheus")

// HealthChecker reports this node's chain-level health: how far head has
// advanced and whether it is currently caught up, the only status a
// single-process validator node needs to publish (spec.md §6 ambient
// observability; no service-registry concept in this module since Client
// is the only long-running component).
type HealthChecker interface {
	HeadHeight() (uint64, error)
	IsSynced() bool
}

// Service provides Prometheus metrics via the /metrics route, plus /healthz
// and /goroutinez diagnostics on the same port.
type Service struct {
	server     *http.Server
	health     HealthChecker
	failStatus error
}

// Handler represents a path and handler func to serve on the same port as
// /metrics, /healthz, /goroutinez, etc.
type Handler struct {
	Path    string
	Handler func(http.ResponseWriter, *http.Request)
}

// NewPrometheusService sets up a new instance for a given address host:port.
// An empty host will match with any IP so an address like ":2121" is
// perfectly acceptable.
func NewPrometheusService(addr string, health HealthChecker, additionalHandlers ...Handler) *Service {
	s := &Service{health: health}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)

	for _, h := range additionalHandlers {
		mux.HandleFunc(h.Path, h.Handler)
	}

	s.server = &http.Server{Addr: addr, Handler: mux}

	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	hasError := false

	height, err := s.health.HeadHeight()
	if err != nil {
		hasError = true
		fmt.Fprintf(&buf, "head: ERROR %s\n", err)
	} else {
		fmt.Fprintf(&buf, "head: height=%d\n", height)
	}

	if s.health.IsSynced() {
		fmt.Fprintf(&buf, "sync: caught up\n")
	} else {
		hasError = true
		fmt.Fprintf(&buf, "sync: catching up\n")
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
		log.WithField("status", buf.String()).Warn("node is unhealthy")
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		log.WithError(err).Error("could not write healthz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	stack := debug.Stack()
	if _, err := w.Write(stack); err != nil {
		log.WithError(err).Error("failed to write goroutines stack")
	}
	if err := pprof.Lookup("goroutine").WriteTo(w, 2); err != nil {
		log.WithError(err).Error("failed to write pprof goroutines")
	}
}

// Start runs the prometheus service in the background.
func (s *Service) Start() {
	go func() {
		addrParts := strings.Split(s.server.Addr, ":")
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%s", addrParts[1]), time.Second)
		if err == nil {
			if err := conn.Close(); err != nil {
				log.WithError(err).Error("failed to close connection")
			}
			log.WithField("address", s.server.Addr).Warn("port already in use; cannot start prometheus service")
		} else {
			log.WithField("address", s.server.Addr).Debug("starting prometheus service")
			if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("could not listen")
				s.failStatus = err
			}
		}
	}()
}

// Stop the service gracefully.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status checks for any service failure conditions.
func (s *Service) Status() error {
	if s.failStatus != nil {
		return s.failStatus
	}
	return nil
}
