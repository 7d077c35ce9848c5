package lifecycle

import (
	"context"

	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
)

// Transfer moves credits between holders. The sender's balance is checked
// remotely; the total across holders is unchanged.
func (o *Orchestrator) Transfer(ctx context.Context, from, to ledger.PublicKey, amount uint64) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrTransferCredits}
	err := o.run(ctx, from, func(ctx context.Context, signer ledger.Signer) error {
		ix, err := o.builder.TransferCredits(from, to, amount)
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature = sig

		sender, err := o.balanceOf(ctx, from)
		if err != nil {
			return err
		}
		receiver, err := o.balanceOf(ctx, to)
		if err != nil {
			return err
		}
		receipt.Balances = []Balance{sender, receiver}
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventCreditsTransferred,
			Signature: sig.String(),
			Actor:     from.String(),
			Accounts:  []string{from.String(), to.String()},
			Data:      map[string]interface{}{"amount": amount, "to": to.String()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Retire moves credits into the holder's retirement sink. Nothing moves
// credits out of a sink.
func (o *Orchestrator) Retire(ctx context.Context, owner ledger.PublicKey, amount uint64) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrRetireCredits}
	err := o.run(ctx, owner, func(ctx context.Context, signer ledger.Signer) error {
		ix, err := o.builder.RetireCredits(owner, amount)
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature = sig

		circulating, err := o.balanceOf(ctx, owner)
		if err != nil {
			return err
		}
		retired, err := o.retiredOf(ctx, owner)
		if err != nil {
			return err
		}
		receipt.Address = retired.Account
		receipt.Balances = []Balance{circulating, retired}
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventCreditsRetired,
			Signature: sig.String(),
			Actor:     owner.String(),
			Accounts:  []string{owner.String()},
			Data:      map[string]interface{}{"amount": amount, "total_retired": retired.Amount},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
