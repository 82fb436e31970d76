package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/shelfmate/sharing-backend/backup"
	"github.com/shelfmate/sharing-backend/cmd/flags"
	"github.com/shelfmate/sharing-backend/common"
	"github.com/shelfmate/sharing-backend/cryptoutils"
	"github.com/shelfmate/sharing-backend/httpserver"
	"github.com/shelfmate/sharing-backend/kvstore"
	"github.com/shelfmate/sharing-backend/metrics"
	"github.com/shelfmate/sharing-backend/ratelimit"
	"github.com/shelfmate/sharing-backend/share"
)

func main() {
	app := &cli.App{
		Name:  common.PackageName,
		Usage: "Serve the snapshot sharing and backup API",
		Flags: flags.CommonFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			backendURI := cCtx.String(flags.KVBackendFlag.Name)
			policyName := cCtx.String(flags.RateLimitPolicyFlag.Name)

			var policy ratelimit.Policy
			switch policyName {
			case "fail-open":
				policy = ratelimit.FailOpen
			case "fail-closed":
				policy = ratelimit.FailClosed
			default:
				return fmt.Errorf("invalid rate-limit-policy: %s", policyName)
			}

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			logger.Info("Opening key-value backend", "uri", backendURI)
			rawKV, err := kvstore.NewFactory(logger).KVStoreFor(backendURI)
			if err != nil {
				logger.Error("Failed to open key-value backend", "err", err)
				return err
			}
			kv := kvstore.NewInstrumentedStore(rawKV, metricsSrv.KVOperationErrors)

			codes, err := share.NewCodeGenerator()
			if err != nil {
				logger.Error("Failed to initialize code generator", "err", err)
				return err
			}

			shares := share.NewStore(kv, logger)
			aliases := share.NewAliasStore(kv, shares, codes, logger)
			registry := backup.NewKeyRegistry(kv, logger)
			backups := backup.NewStore(kv, registry, logger)
			limiter := ratelimit.NewLimiter(kv, policy, logger)
			verifier := &cryptoutils.StubAttestationVerifier{
				RejectAsserted: cCtx.Bool(flags.RejectAssertedFlag.Name),
			}

			handler := httpserver.NewHandler(shares, aliases, backups, registry, limiter, verifier, logger)

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

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
