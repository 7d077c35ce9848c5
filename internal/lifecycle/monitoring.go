package lifecycle

import (
	"context"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
)

// MonitoringRequest appends an ecological measurement to a project. A zero
// Timestamp means now.
type MonitoringRequest struct {
	Submitter ledger.PublicKey      `json:"submitter"`
	Project   ledger.PublicKey      `json:"project"`
	Timestamp int64                 `json:"timestamp"`
	Data      ledger.MonitoringData `json:"data"`
}

// SubmitMonitoring records a sample. Records are keyed by timestamp and
// cannot be overwritten.
func (o *Orchestrator) SubmitMonitoring(ctx context.Context, req MonitoringRequest) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrSubmitMonitoring}
	ts := req.Timestamp
	if ts == 0 {
		ts = o.clock().Unix()
	}
	err := o.run(ctx, req.Submitter, func(ctx context.Context, signer ledger.Signer) error {
		project, err := o.readProject(ctx, req.Project)
		if err != nil {
			return err
		}
		ix, addr, err := o.builder.SubmitMonitoring(req.Submitter, req.Project, ledger.SubmitMonitoringArgs{
			ProjectID: project.ProjectID,
			Timestamp: ts,
			Data:      req.Data,
		})
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature, receipt.Address = sig, addr

		acc, err := o.client.GetAccount(ctx, addr)
		if err != nil {
			return failure.Classify(err)
		}
		if receipt.Record, err = ledger.DecodeAs[ledger.MonitoringRecord](acc); err != nil {
			return err
		}
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventMonitoringSubmitted,
			Signature: sig.String(),
			Actor:     req.Submitter.String(),
			Accounts:  []string{addr.String(), req.Project.String()},
			Data:      map[string]interface{}{"timestamp": ts, "ndvi": req.Data.NDVI},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
