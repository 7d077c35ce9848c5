package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
	"blue-carbon/registry-portal/registry-portal-backend/internal/pinning"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/storage"
)

// RegisterRequest registers a project. When Documents are supplied they are
// pinned first and the primary CID replaces ContentID.
type RegisterRequest struct {
	Owner         ledger.PublicKey `json:"owner"`
	ProjectID     string           `json:"projectId"`
	ContentID     string           `json:"contentId"`
	EstimatedTons uint64           `json:"estimatedTons"`
	Ecosystem     ledger.Ecosystem `json:"ecosystem"`
	Documents     []pinning.File   `json:"-"`
}

// Register creates a project in the Pending state.
func (o *Orchestrator) Register(ctx context.Context, req RegisterRequest) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrRegisterProject}
	err := o.run(ctx, req.Owner, func(ctx context.Context, signer ledger.Signer) error {
		contentID := req.ContentID
		if len(req.Documents) > 0 {
			if o.pinner == nil {
				return ErrPinningDisabled
			}
			res, err := o.pinner.Pin(ctx, req.Documents)
			if res != nil {
				o.metrics.ObservePinned(len(res.Uploads), res.FailedCount)
			}
			if err != nil {
				return err
			}
			receipt.Documents = res
			contentID = res.ContentID
			o.publish(ctx, notifications.Event{
				Type:  notifications.EventDocumentsPinned,
				Actor: req.Owner.String(),
				Data: map[string]interface{}{
					"content_id":   res.ContentID,
					"failed_count": res.FailedCount,
				},
			})
		}
		if contentID == "" {
			return ErrMissingContentID
		}
		if _, err := storage.ParseCID(contentID); err != nil {
			return failure.InvalidNamespace("content id: %v", err)
		}

		ix, addr, err := o.builder.RegisterProject(req.Owner, ledger.RegisterProjectArgs{
			ProjectID:     req.ProjectID,
			ContentID:     contentID,
			EstimatedTons: req.EstimatedTons,
			Ecosystem:     req.Ecosystem,
		})
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature, receipt.Address = sig, addr

		p, err := o.readProject(ctx, addr)
		if err != nil {
			return err
		}
		receipt.Project = p
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventProjectRegistered,
			Signature: sig.String(),
			Actor:     req.Owner.String(),
			Accounts:  []string{addr.String(), req.Owner.String()},
			Data:      map[string]interface{}{"project_id": p.ProjectID, "content_id": p.ContentID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// VerifyRequest records a validator's verdict on a project.
type VerifyRequest struct {
	Project       ledger.PublicKey `json:"project"`
	Validator     ledger.PublicKey `json:"validator"`
	ReportCID     string           `json:"reportCid"`
	VerifiedTons  uint64           `json:"verifiedTons"`
	Approve       bool             `json:"approve"`
	Confidence    uint8            `json:"confidence"`
	QualityRating uint8            `json:"qualityRating"`
}

// Verify submits a verdict. Whether the validator is authorized, and what a
// rejection does to the project, is decided by the remote program.
func (o *Orchestrator) Verify(ctx context.Context, req VerifyRequest) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrVerifyProject, Address: req.Project}
	err := o.run(ctx, req.Validator, func(ctx context.Context, signer ledger.Signer) error {
		current, err := o.readProject(ctx, req.Project)
		if err != nil {
			return err
		}
		ix, err := o.builder.VerifyProject(req.Validator, req.Project, ledger.VerifyProjectArgs{
			ProjectID:     current.ProjectID,
			Approve:       req.Approve,
			ReportCID:     req.ReportCID,
			VerifiedTons:  req.VerifiedTons,
			Confidence:    req.Confidence,
			QualityRating: req.QualityRating,
		})
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature = sig

		p, err := o.readProject(ctx, req.Project)
		if err != nil {
			return err
		}
		receipt.Project = p
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventProjectVerified,
			Signature: sig.String(),
			Actor:     req.Validator.String(),
			Accounts:  []string{req.Project.String(), p.Owner.String()},
			Data: map[string]interface{}{
				"project_id": p.ProjectID,
				"approve":    req.Approve,
				"status":     string(p.Status),
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// MintCredits issues credits for a verified project to its owner. The
// project is re-read first so the status cache reflects the ledger, but the
// Verified and capacity checks are left to the remote program.
func (o *Orchestrator) MintCredits(ctx context.Context, project, owner ledger.PublicKey, amount uint64) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrMintCredits, Address: project}
	err := o.run(ctx, owner, func(ctx context.Context, signer ledger.Signer) error {
		if cached, ok := o.cache.Get(project); ok && cached.State == StateVerified {
			o.logger.Debug("Cached status is advisory, re-reading project",
				zap.String("project", project.String()))
		}
		current, err := o.readProject(ctx, project)
		if err != nil {
			return err
		}
		if !current.IsVerified() {
			o.logger.Info("Project not verified on ledger, submitting for the program to decide",
				zap.String("project", project.String()),
				zap.String("status", string(current.Status)))
		}

		ix, err := o.builder.MintCredits(owner, project, owner, amount)
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature = sig

		p, err := o.readProject(ctx, project)
		if err != nil {
			return err
		}
		receipt.Project = p
		bal, err := o.balanceOf(ctx, owner)
		if err != nil {
			return err
		}
		receipt.Balances = []Balance{bal}
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventCreditsMinted,
			Signature: sig.String(),
			Actor:     owner.String(),
			Accounts:  []string{project.String(), owner.String()},
			Data:      map[string]interface{}{"project_id": p.ProjectID, "amount": amount, "credits_issued": p.CreditsIssued},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ProjectStatusView is an authoritative read of a project together with
// the advisory cache entry it replaced.
type ProjectStatusView struct {
	Address  ledger.PublicKey `json:"address"`
	State    ProjectState     `json:"state"`
	Project  *ledger.Project  `json:"project"`
	Previous *CachedStatus    `json:"previous,omitempty"`
}

// ProjectStatus always re-reads the project.
func (o *Orchestrator) ProjectStatus(ctx context.Context, project ledger.PublicKey) (*ProjectStatusView, error) {
	var prev *CachedStatus
	if cached, ok := o.cache.Get(project); ok {
		prev = &cached
	}
	p, err := o.readProject(ctx, project)
	if err != nil {
		if failure.IsAccountMissing(err) {
			o.cache.MarkStale(project)
		}
		return nil, err
	}
	return &ProjectStatusView{Address: project, State: StateOf(p), Project: p, Previous: prev}, nil
}

// ProjectAddress derives the address of a project under the deployment's
// addressing scheme.
func (o *Orchestrator) ProjectAddress(owner ledger.PublicKey, projectID string) (ledger.PublicKey, error) {
	d, err := o.builder.Deriver().Project(owner, projectID)
	if err != nil {
		return ledger.PublicKey{}, err
	}
	return d.Address, nil
}

// RegisterVerifierRequest registers a validator identity.
type RegisterVerifierRequest struct {
	Admin        ledger.PublicKey `json:"admin"`
	Identity     ledger.PublicKey `json:"identity"`
	VerifierType string           `json:"verifierType"`
	Credentials  string           `json:"credentials"`
}

// RegisterVerifier lets the registry admin authorize a validator.
func (o *Orchestrator) RegisterVerifier(ctx context.Context, req RegisterVerifierRequest) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrRegisterVerifier}
	err := o.run(ctx, req.Admin, func(ctx context.Context, signer ledger.Signer) error {
		ix, err := o.builder.RegisterVerifier(req.Admin, req.Identity, ledger.RegisterVerifierArgs{
			VerifierType: req.VerifierType,
			Credentials:  req.Credentials,
		})
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		d, err := o.builder.Deriver().Verifier(req.Identity)
		if err != nil {
			return err
		}
		acc, err := o.client.GetAccount(ctx, d.Address)
		if err != nil {
			return err
		}
		v, err := ledger.DecodeAs[ledger.Verifier](acc)
		if err != nil {
			return fmt.Errorf("decode verifier: %w", err)
		}
		receipt.Signature, receipt.Address, receipt.Verifier = sig, d.Address, v
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventVerifierRegistered,
			Signature: sig.String(),
			Actor:     req.Admin.String(),
			Accounts:  []string{d.Address.String(), req.Identity.String()},
			Data:      map[string]interface{}{"verifier_type": v.VerifierType},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
