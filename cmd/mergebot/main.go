package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mergebot/mergebot/common"
	"github.com/mergebot/mergebot/httpserver"
	"github.com/urfave/cli/v2"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: httpserver.DefaultListenAddr,
		Usage: "address to listen on for HTTP",
	},
	&cli.StringFlag{
		Name:  "listen-addr-ssl",
		Value: httpserver.DefaultListenAddrTLS,
		Usage: "address to listen on for HTTPS",
	},
	&cli.StringFlag{
		Name:  "pkcs12-file",
		Value: "",
		Usage: "path to the PKCS#12 TLS identity; empty disables TLS",
	},
	&cli.StringFlag{
		Name:  "pkcs12-pass",
		Value: "",
		Usage: "passphrase for the PKCS#12 identity",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "",
		Usage: "address to listen on for Prometheus metrics and health endpoints",
	},
	&cli.IntFlag{
		Name:  "num-http-threads",
		Value: 20,
		Usage: "worker parallelism for request handling (minimum 2)",
	},
	&cli.StringFlag{
		Name:  "auth-token",
		Value: "",
		Usage: "bearer token required on every request when set",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: common.PackageName,
		Usage: "add 'service' tag to logs",
	},
}

func main() {
	app := &cli.App{
		Name:  "mergebot",
		Usage: "Serve the mergebot HTTP(S) dispatch layer",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			listenAddrTLS := cCtx.String("listen-addr-ssl")
			pkcs12File := cCtx.String("pkcs12-file")
			pkcs12Pass := cCtx.String("pkcs12-pass")
			metricsAddr := cCtx.String("metrics-addr")
			numThreads := cCtx.Int("num-http-threads")
			authToken := cCtx.String("auth-token")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			if numThreads < 2 {
				numThreads = 2
			}
			runtime.GOMAXPROCS(numThreads)

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				ListenAddrTLS:            listenAddrTLS,
				PKCS12File:               pkcs12File,
				PKCS12Pass:               pkcs12Pass,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server, err := httpserver.New(cfg, mainService(authToken))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			if err := server.Start(); err != nil {
				logger.Error("Failed to start server", "err", err)
				return err
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// mainService builds the service dispatched behind the listeners. Webhook
// and session endpoints mount their routes here; a bearer-token filter
// guards the whole chain when a token is configured.
func mainService(authToken string) httpserver.Handler {
	mux := chi.NewRouter()
	mux.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})

	var service httpserver.Handler = httpserver.WrapHTTP(mux)
	if authToken != "" {
		service = httpserver.NewFilteredHandler(bearerTokenFilter(authToken), service)
	}
	return service
}

func bearerTokenFilter(token string) httpserver.FilterFunc {
	return func(r *http.Request) httpserver.FilterResult {
		if r.Header.Get("Authorization") != "Bearer "+token {
			return httpserver.Halt(httpserver.NewMsgResponse(http.StatusForbidden, "invalid auth token"))
		}
		return httpserver.Continue()
	}
}
