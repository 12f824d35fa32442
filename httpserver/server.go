package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/mergebot/mergebot/common"
	"github.com/mergebot/mergebot/metrics"
)

// Default bind addresses when the config leaves them empty.
const (
	DefaultListenAddr    = "0.0.0.0:3000"
	DefaultListenAddrTLS = "0.0.0.0:3001"
)

type HTTPServerConfig struct {
	// ListenAddr is the plaintext bind address. In secure mode it serves
	// only redirects; in insecure mode it serves the main service.
	ListenAddr string

	// ListenAddrTLS is the HTTPS bind address, used only in secure mode.
	ListenAddrTLS string

	// PKCS12File is the path to the TLS identity bundle. Empty means no
	// TLS: the server runs in insecure mode with a startup warning.
	PKCS12File string

	// PKCS12Pass is the passphrase for PKCS12File.
	PKCS12Pass string

	// Identity, when set, is used directly instead of decoding PKCS12File.
	Identity *tls.Certificate

	// MetricsAddr is the metrics/health listen address. Empty disables the
	// metrics listener; counters are still collected.
	MetricsAddr string

	Log *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server binds the configured listeners and dispatches every request into
// the main Handler. Depending on configuration it runs one of three
// topologies: HTTPS-main plus HTTP-redirect, or plain HTTP-main.
//
// All fields are set in New and immutable afterwards; only requests flow
// through the handler graph once Start returns.
type Server struct {
	cfg      *HTTPServerConfig
	log      *slog.Logger
	identity *tls.Certificate

	srv         *http.Server
	redirectSrv *http.Server
	metricsSrv  *metrics.MetricsServer

	mainLn     net.Listener
	redirectLn net.Listener
}

// New creates a server dispatching into main. The TLS identity is loaded
// eagerly: a configured-but-undecodable PKCS#12 bundle is a fatal error and
// no socket is bound. A missing identity only logs a warning that the
// deployment is unencrypted.
func New(cfg *HTTPServerConfig, main Handler) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ListenAddrTLS == "" {
		cfg.ListenAddrTLS = DefaultListenAddrTLS
	}
	if cfg.GracefulShutdownDuration == 0 {
		cfg.GracefulShutdownDuration = 30 * time.Second
	}

	identity := cfg.Identity
	if identity == nil && cfg.PKCS12File != "" {
		loaded, err := LoadIdentity(cfg.PKCS12File, cfg.PKCS12Pass)
		if err != nil {
			return nil, err
		}
		identity = loaded
	}
	if identity == nil {
		cfg.Log.Warn("No TLS identity configured, serving plaintext only")
	}

	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	metricsSrv.DrainDuration = cfg.DrainDuration
	metricsSrv.Log = cfg.Log

	srv := &Server{
		cfg:        cfg,
		log:        cfg.Log,
		identity:   identity,
		metricsSrv: metricsSrv,
	}

	srv.srv = &http.Server{
		Handler:      srv.dispatch(main),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if identity != nil {
		if _, err := portOf(cfg.ListenAddrTLS); err != nil {
			return nil, fmt.Errorf("invalid HTTPS listen address %q: %w", cfg.ListenAddrTLS, err)
		}
	}

	return srv, nil
}

func portOf(addr string) (uint16, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(port), nil
}

// dispatch bridges a Handler into net/http, wrapped in the request-logging
// middleware. A panic while producing a response is confined to that request
// and surfaces as an opaque 500.
func (srv *Server) dispatch(h Handler) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				srv.log.Error("Panic while handling request",
					"err", rec, "method", r.Method, "path", r.URL.Path)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		resp := h.Handle(r.Context(), r)
		if resp == nil {
			resp = NewErrorResponse(srv.log, errors.New("handler produced no response"))
		}
		srv.metricsSrv.RequestsServed.Inc()
		writeResponse(w, resp)
	})
	return httplogger.LoggingMiddlewareSlog(srv.log, handler)
}

// Start binds the listeners for the selected topology and begins serving in
// the background. A bind failure is fatal and returned before any serving
// begins; in secure mode both addresses must be acquired.
func (srv *Server) Start() error {
	if srv.identity != nil {
		ln, err := net.Listen("tcp", srv.cfg.ListenAddrTLS)
		if err != nil {
			return fmt.Errorf("cannot bind HTTPS address %s: %w", srv.cfg.ListenAddrTLS, err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{*srv.identity},
			MinVersion:   tls.VersionTLS12,
		}
		srv.mainLn = newTLSAcceptListener(ln, tlsCfg, srv.log, srv.metricsSrv.TLSHandshakeFailures)
		go srv.serve("HTTPS", srv.srv, srv.mainLn)
		srv.log.Info("Listening (HTTPS)", "addr", srv.mainLn.Addr().String())

		// The redirect target uses the port actually bound, so configs
		// with an ephemeral port still redirect correctly.
		httpsPort := uint16(srv.mainLn.Addr().(*net.TCPAddr).Port)
		srv.redirectSrv = &http.Server{
			Handler:      srv.dispatch(NewRedirectHandler(httpsPort)),
			ReadTimeout:  srv.cfg.ReadTimeout,
			WriteTimeout: srv.cfg.WriteTimeout,
		}

		rln, err := net.Listen("tcp", srv.cfg.ListenAddr)
		if err != nil {
			srv.mainLn.Close()
			return fmt.Errorf("cannot bind HTTP address %s: %w", srv.cfg.ListenAddr, err)
		}
		srv.redirectLn = rln
		go srv.serve("HTTP redirect", srv.redirectSrv, rln)
		srv.log.Info("Listening (HTTP redirect)", "addr", rln.Addr().String())
	} else {
		ln, err := net.Listen("tcp", srv.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("cannot bind HTTP address %s: %w", srv.cfg.ListenAddr, err)
		}
		srv.mainLn = ln
		go srv.serve("HTTP", srv.srv, ln)
		srv.log.Info("Listening (HTTP)", "addr", ln.Addr().String())
	}

	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.Info("Starting metrics server", "metricsAddress", srv.cfg.MetricsAddr)
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	return nil
}

func (srv *Server) serve(name string, s *http.Server, ln net.Listener) {
	if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		srv.log.Error("HTTP server failed", "server", name, "err", err)
	}
}

// Addr returns the bound plaintext address, or "" before Start.
func (srv *Server) Addr() string {
	if srv.identity != nil {
		if srv.redirectLn != nil {
			return srv.redirectLn.Addr().String()
		}
		return ""
	}
	if srv.mainLn != nil {
		return srv.mainLn.Addr().String()
	}
	return ""
}

// TLSAddr returns the bound HTTPS address, or "" when TLS is not configured
// or the server has not started.
func (srv *Server) TLSAddr() string {
	if srv.identity != nil && srv.mainLn != nil {
		return srv.mainLn.Addr().String()
	}
	return ""
}

// Shutdown gracefully stops all listeners.
func (srv *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	if srv.redirectSrv != nil && srv.redirectLn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := srv.redirectSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful redirect server shutdown failed", "err", err)
		}
	}

	if srv.cfg.MetricsAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		}
	}
}
