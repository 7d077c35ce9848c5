package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/lifecycle"
)

// withSession runs fn against a connected session bounded by --timeout.
func withSession(needKey bool, fn func(ctx context.Context, cctx *cli.Context, s *session) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		s, err := connect(cctx, needKey)
		if err != nil {
			return err
		}
		defer s.Close()
		ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
		defer cancel()
		if err := fn(ctx, cctx, s); err != nil {
			return failure.Classify(err)
		}
		return nil
	}
}

func pubkeyFlag(cctx *cli.Context, name string) (ledger.PublicKey, error) {
	pk, err := ledger.ParsePublicKey(cctx.String(name))
	if err != nil {
		return ledger.PublicKey{}, fmt.Errorf("--%s: %w", name, err)
	}
	return pk, nil
}

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "generate a wallet keypair",
	Action: func(cctx *cli.Context) error {
		kp, err := ledger.NewKeypair()
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"publicKey": kp.PublicKey().String(),
			"secretKey": kp.Secret(),
		})
	},
}

var signCmd = &cli.Command{
	Name:      "sign",
	Usage:     "sign a login challenge message with --key",
	ArgsUsage: "<message>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expected exactly one message argument")
		}
		kp, err := ledger.ParseKeypair(cctx.String("key"))
		if err != nil {
			return fmt.Errorf("--key: %w", err)
		}
		fmt.Println(kp.SignMessage([]byte(cctx.Args().First())).String())
		return nil
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "show whether the registry exists",
	Action: withSession(false, func(ctx context.Context, _ *cli.Context, s *session) error {
		var out interface{}
		err := failure.Retry(ctx, failure.DefaultRetryPolicy(), func(ctx context.Context) error {
			status, err := s.Orchestrator.RegistryStatus(ctx)
			out = status
			return err
		})
		if err != nil {
			return err
		}
		return printJSON(out)
	}),
}

var ensureCmd = &cli.Command{
	Name:  "ensure",
	Usage: "create the registry if it does not exist yet",
	Action: withSession(true, func(ctx context.Context, _ *cli.Context, s *session) error {
		status, err := s.Orchestrator.EnsureRegistry(ctx, s.actor)
		if err != nil {
			return err
		}
		return printJSON(status)
	}),
}

var verifierCmd = &cli.Command{
	Name:  "add-verifier",
	Usage: "authorize a validator (registry admin only)",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "identity", Required: true},
		&cli.StringFlag{Name: "type", Value: "independent"},
		&cli.StringFlag{Name: "credentials"},
	},
	Action: withSession(true, func(ctx context.Context, cctx *cli.Context, s *session) error {
		identity, err := pubkeyFlag(cctx, "identity")
		if err != nil {
			return err
		}
		receipt, err := s.Orchestrator.RegisterVerifier(ctx, lifecycle.RegisterVerifierRequest{
			Admin:        s.actor,
			Identity:     identity,
			VerifierType: cctx.String("type"),
			Credentials:  cctx.String("credentials"),
		})
		if err != nil {
			return err
		}
		return printJSON(receipt)
	}),
}

var registerCmd = &cli.Command{
	Name:  "register",
	Usage: "register a project owned by --key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "project-id", Required: true},
		&cli.StringFlag{Name: "content-id", Required: true, Usage: "CID of the project documents"},
		&cli.Uint64Flag{Name: "tons", Required: true, Usage: "estimated tonnes of CO2e"},
		&cli.StringFlag{Name: "ecosystem", Usage: "ecosystem description as JSON"},
	},
	Action: withSession(true, func(ctx context.Context, cctx *cli.Context, s *session) error {
		var eco ledger.Ecosystem
		if raw := cctx.String("ecosystem"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &eco); err != nil {
				return fmt.Errorf("--ecosystem: %w", err)
			}
		}
		receipt, err := s.Orchestrator.Register(ctx, lifecycle.RegisterRequest{
			Owner:         s.actor,
			ProjectID:     cctx.String("project-id"),
			ContentID:     cctx.String("content-id"),
			EstimatedTons: cctx.Uint64("tons"),
			Ecosystem:     eco,
		})
		if err != nil {
			return err
		}
		return printJSON(receipt)
	}),
}

var projectCmd = &cli.Command{
	Name:      "project",
	Usage:     "read a project's current state",
	ArgsUsage: "<address>",
	Action: withSession(false, func(ctx context.Context, cctx *cli.Context, s *session) error {
		addr, err := ledger.ParsePublicKey(cctx.Args().First())
		if err != nil {
			return err
		}
		var view *lifecycle.ProjectStatusView
		err = failure.Retry(ctx, failure.DefaultRetryPolicy(), func(ctx context.Context) error {
			view, err = s.Orchestrator.ProjectStatus(ctx, addr)
			return err
		})
		if err != nil {
			return err
		}
		return printJSON(view)
	}),
}

var verifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "submit a verdict on a project as the validator --key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "project", Required: true},
		&cli.StringFlag{Name: "report-cid", Required: true},
		&cli.Uint64Flag{Name: "tons", Required: true, Usage: "verified tonnes of CO2e"},
		&cli.BoolFlag{Name: "reject"},
		&cli.UintFlag{Name: "confidence", Value: 90},
		&cli.UintFlag{Name: "quality", Value: 80},
	},
	Action: withSession(true, func(ctx context.Context, cctx *cli.Context, s *session) error {
		project, err := pubkeyFlag(cctx, "project")
		if err != nil {
			return err
		}
		receipt, err := s.Orchestrator.Verify(ctx, lifecycle.VerifyRequest{
			Project:       project,
			Validator:     s.actor,
			ReportCID:     cctx.String("report-cid"),
			VerifiedTons:  cctx.Uint64("tons"),
			Approve:       !cctx.Bool("reject"),
			Confidence:    uint8(cctx.Uint("confidence")),
			QualityRating: uint8(cctx.Uint("quality")),
		})
		if err != nil {
			return err
		}
		return printJSON(receipt)
	}),
}

var mintCmd = &cli.Command{
	Name:  "mint",
	Usage: "mint credits against a verified project owned by --key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "project", Required: true},
		&cli.Uint64Flag{Name: "amount", Required: true, Usage: "amount in base units"},
	},
	Action: withSession(true, func(ctx context.Context, cctx *cli.Context, s *session) error {
		project, err := pubkeyFlag(cctx, "project")
		if err != nil {
			return err
		}
		receipt, err := s.Orchestrator.MintCredits(ctx, project, s.actor, cctx.Uint64("amount"))
		if err != nil {
			return err
		}
		return printJSON(receipt)
	}),
}

var transferCmd = &cli.Command{
	Name:  "transfer",
	Usage: "transfer credits from --key to another wallet",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "to", Required: true},
		&cli.Uint64Flag{Name: "amount", Required: true},
	},
	Action: withSession(true, func(ctx context.Context, cctx *cli.Context, s *session) error {
		to, err := pubkeyFlag(cctx, "to")
		if err != nil {
			return err
		}
		receipt, err := s.Orchestrator.Transfer(ctx, s.actor, to, cctx.Uint64("amount"))
		if err != nil {
			return err
		}
		return printJSON(receipt)
	}),
}

var retireCmd = &cli.Command{
	Name:  "retire",
	Usage: "retire credits held by --key",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "amount", Required: true},
	},
	Action: withSession(true, func(ctx context.Context, cctx *cli.Context, s *session) error {
		receipt, err := s.Orchestrator.Retire(ctx, s.actor, cctx.Uint64("amount"))
		if err != nil {
			return err
		}
		return printJSON(receipt)
	}),
}

var balanceCmd = &cli.Command{
	Name:  "balance",
	Usage: "show a wallet's spendable and retired credits",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "holder", Usage: "wallet address, defaults to --key"},
	},
	Action: withSession(false, func(ctx context.Context, cctx *cli.Context, s *session) error {
		holder := s.actor
		if cctx.IsSet("holder") {
			pk, err := pubkeyFlag(cctx, "holder")
			if err != nil {
				return err
			}
			holder = pk
		}
		if holder.IsZero() {
			return fmt.Errorf("--holder or --key is required")
		}
		var balance, retired lifecycle.Balance
		err := failure.Retry(ctx, failure.DefaultRetryPolicy(), func(ctx context.Context) error {
			var err error
			if balance, err = s.Orchestrator.Balance(ctx, holder); err != nil {
				return err
			}
			retired, err = s.Orchestrator.Retired(ctx, holder)
			return err
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]lifecycle.Balance{"balance": balance, "retired": retired})
	}),
}
