package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/app"
	"blue-carbon/registry-portal/registry-portal-backend/internal/config"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/address"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger/rpc"
)

func main() {
	cliApp := &cli.App{
		Name:  "ledger-sim",
		Usage: "serve an in-memory registry ledger over JSON-RPC for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				EnvVars: []string{"LEDGER_SIM_LISTEN"},
				Value:   "127.0.0.1:1234",
			},
			&cli.StringFlag{
				Name:  "program",
				Value: app.DefaultProgramID.String(),
			},
			&cli.StringFlag{
				Name:  "scheme",
				Usage: "addressing scheme for project accounts (owner or global)",
				Value: "owner",
			},
			&cli.StringFlag{
				Name:  "salt",
				Value: "v1",
			},
			&cli.StringFlag{
				Name:  "rejection-policy",
				Usage: "what a rejection does to a project (terminal or resubmit)",
				Value: "terminal",
			},
			&cli.IntFlag{
				Name:  "required-approvals",
				Value: 1,
			},
			&cli.Uint64Flag{
				Name:  "fee",
				Usage: "lamports charged to the fee payer per transaction",
			},
			&cli.StringSliceFlag{
				Name:  "airdrop",
				Usage: "fund these wallet addresses at startup",
			},
			&cli.Uint64Flag{
				Name:  "airdrop-amount",
				Value: 1_000_000_000,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	logger, err := app.NewLogger(cctx.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	programID, err := ledger.ParsePublicKey(cctx.String("program"))
	if err != nil {
		return fmt.Errorf("--program: %w", err)
	}
	scheme, err := address.ParseScheme(cctx.String("scheme"))
	if err != nil {
		return err
	}

	cfg := &config.Config{Ledger: config.LedgerConfig{
		RejectionPolicy:   cctx.String("rejection-policy"),
		RequiredApprovals: cctx.Int("required-approvals"),
		Fee:               cctx.Uint64("fee"),
	}}
	sim := app.NewSimulator(address.NewDeriver(programID, scheme, cctx.String("salt")), cfg, logger.Named("ledger"))

	for _, raw := range cctx.StringSlice("airdrop") {
		to, err := ledger.ParsePublicKey(raw)
		if err != nil {
			return fmt.Errorf("--airdrop %s: %w", raw, err)
		}
		sim.Airdrop(to, cctx.Uint64("airdrop-amount"))
		logger.Info("Airdropped", zap.String("to", to.String()), zap.Uint64("lamports", cctx.Uint64("airdrop-amount")))
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc/v0", rpc.NewHandler(sim))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok slot=%d\n", sim.Slot())
	})
	srv := &http.Server{
		Addr:              cctx.String("listen"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("Ledger simulator listening",
		zap.String("addr", srv.Addr),
		zap.String("program", programID.String()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
