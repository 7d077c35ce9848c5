package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"blue-carbon/registry-portal/registry-portal-backend/internal/app"
	"blue-carbon/registry-portal/registry-portal-backend/internal/config"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
)

func main() {
	cliApp := &cli.App{
		Name:                 "registryctl",
		Usage:                "operate the blue carbon credit registry from the command line",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"CONFIG_PATH"},
				Value:   "config.json",
			},
			&cli.StringFlag{
				Name:    "ledger-url",
				Usage:   "JSON-RPC endpoint of the ledger gateway",
				EnvVars: []string{"LEDGER_RPC_URL"},
				Value:   "ws://127.0.0.1:1234/rpc/v0",
			},
			&cli.StringFlag{
				Name:    "program",
				Usage:   "registry program address",
				EnvVars: []string{"LEDGER_PROGRAM_ID"},
				Value:   app.DefaultProgramID.String(),
			},
			&cli.StringFlag{
				Name:    "key",
				Usage:   "base58 secret key of the acting wallet",
				EnvVars: []string{"REGISTRYCTL_KEY"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			keygenCmd,
			signCmd,
			statusCmd,
			ensureCmd,
			verifierCmd,
			registerCmd,
			projectCmd,
			verifyCmd,
			mintCmd,
			transferCmd,
			retireCmd,
			balanceCmd,
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

// session is an App connected to the configured gateway, acting as the
// wallet given by --key.
type session struct {
	*app.App
	actor ledger.PublicKey
}

func connect(cctx *cli.Context, needKey bool) (*session, error) {
	cfg, err := config.LoadConfig(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	cfg.Ledger.Mode = "rpc"
	cfg.Ledger.RPCURL = cctx.String("ledger-url")
	cfg.Ledger.ProgramID = cctx.String("program")
	cfg.Storage.Provider = "memory"
	cfg.Storage.S3.Bucket = ""

	var actor ledger.PublicKey
	if secret := cctx.String("key"); secret != "" {
		kp, err := ledger.ParseKeypair(secret)
		if err != nil {
			return nil, fmt.Errorf("--key: %w", err)
		}
		cfg.Ledger.SignerKeys = []string{secret}
		actor = kp.PublicKey()
	} else if needKey {
		return nil, fmt.Errorf("--key is required for this command")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := app.NewLogger(cctx.String("log-level"))
	if err != nil {
		return nil, err
	}
	a, err := app.New(cctx.Context, cfg, logger.Named("registryctl"))
	if err != nil {
		return nil, err
	}
	return &session{App: a, actor: actor}, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
