package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"

	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-identity/apps/api/echo"
	"github.com/trezcool/masomo-identity/apps/di"
	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/bootstrap"
	logsvc "github.com/trezcool/masomo-identity/services/logger"
	ratelimitsvc "github.com/trezcool/masomo-identity/services/ratelimit"
)

type app struct {
	dig.In

	Conf      *core.Config
	Logger    *logsvc.RollbarLogger
	Close     di.Closer
	MailSvc   core.EmailService
	Limiter   *ratelimitsvc.Limiter
	Bootstrap *bootstrap.Service
	Server    *echoapi.Server
}

func main() {
	c := di.New(nil)
	must(c.Invoke(run))
}

func run(a app) {
	conf, logger, server := a.Conf, a.Logger, a.Server

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Close()
	defer logger.Info("Application stopped")
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close database", err)
		}
	}()
	defer func() { _ = a.Limiter.Close() }()
	// pending emails are sent before exiting
	if w, ok := a.MailSvc.(interface{ Wait() }); ok {
		defer w.Wait()
	}

	// =========================================================================
	// Bootstrap
	//
	// Registrations are refused until an administrator exists.

	if admin, ok := bootstrap.ConfiguredAdmin(conf.Bootstrap); ok {
		if err := a.Bootstrap.Ensure(context.Background(), admin); err != nil {
			logger.Warn(fmt.Sprintf("starting without administrator: %v", err))
		}
	} else if _, err := a.Bootstrap.State(context.Background()); err != nil {
		logger.Warn(fmt.Sprintf("registrations are closed until the admin bootstrap command runs: %v", err))
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	go func() {
		logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Address))
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
