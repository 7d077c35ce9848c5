package lifecycle

import (
	"context"

	"blue-carbon/registry-portal/registry-portal-backend/internal/failure"
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
)

// ListingRequest offers credits of a verified project for sale.
type ListingRequest struct {
	Seller       ledger.PublicKey `json:"seller"`
	Project      ledger.PublicKey `json:"project"`
	Quantity     uint64           `json:"quantity"`
	PricePerUnit uint64           `json:"pricePerUnit"`
	Vintage      int              `json:"vintage"`
}

// CreateListing escrows Quantity credits from the seller into a listing.
func (o *Orchestrator) CreateListing(ctx context.Context, req ListingRequest) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrCreateListing}
	err := o.run(ctx, req.Seller, func(ctx context.Context, signer ledger.Signer) error {
		project, err := o.readProject(ctx, req.Project)
		if err != nil {
			return err
		}
		ix, addr, err := o.builder.CreateListing(req.Seller, req.Project, ledger.CreateListingArgs{
			ProjectID:    project.ProjectID,
			Quantity:     req.Quantity,
			PricePerUnit: req.PricePerUnit,
			Vintage:      req.Vintage,
		})
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature, receipt.Address = sig, addr

		listing, err := o.readListing(ctx, addr)
		if err != nil {
			return err
		}
		receipt.Listing = listing
		if receipt.Project, err = o.readProject(ctx, req.Project); err != nil {
			return err
		}
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventListingCreated,
			Signature: sig.String(),
			Actor:     req.Seller.String(),
			Accounts:  []string{addr.String(), req.Project.String(), req.Seller.String()},
			Data: map[string]interface{}{
				"quantity":       listing.Quantity,
				"price_per_unit": listing.PricePerUnit,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// PurchaseListing buys quantity credits from a listing. The price is the
// listing's own and cannot be set by the buyer.
func (o *Orchestrator) PurchaseListing(ctx context.Context, buyer, listingAddr ledger.PublicKey, quantity uint64) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrPurchaseListing, Address: listingAddr}
	err := o.run(ctx, buyer, func(ctx context.Context, signer ledger.Signer) error {
		current, err := o.readListing(ctx, listingAddr)
		if err != nil {
			return err
		}
		ix, err := o.builder.PurchaseListing(buyer, listingAddr, current.Seller, quantity)
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature = sig

		if receipt.Listing, err = o.readListing(ctx, listingAddr); err != nil {
			return err
		}
		bal, err := o.balanceOf(ctx, buyer)
		if err != nil {
			return err
		}
		receipt.Balances = []Balance{bal}
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventListingPurchased,
			Signature: sig.String(),
			Actor:     buyer.String(),
			Accounts:  []string{listingAddr.String(), buyer.String(), current.Seller.String()},
			Data: map[string]interface{}{
				"quantity":  quantity,
				"remaining": receipt.Listing.Remaining,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// CancelListing returns the unsold remainder to the seller.
func (o *Orchestrator) CancelListing(ctx context.Context, seller, listingAddr ledger.PublicKey) (*Receipt, error) {
	receipt := &Receipt{Operation: ledger.InstrCancelListing, Address: listingAddr}
	err := o.run(ctx, seller, func(ctx context.Context, signer ledger.Signer) error {
		ix, err := o.builder.CancelListing(seller, listingAddr)
		if err != nil {
			return err
		}
		ctx, sig, err := o.execute(ctx, signer, ix)
		if err != nil {
			return err
		}
		receipt.Signature = sig

		if receipt.Listing, err = o.readListing(ctx, listingAddr); err != nil {
			return err
		}
		bal, err := o.balanceOf(ctx, seller)
		if err != nil {
			return err
		}
		receipt.Balances = []Balance{bal}
		o.publish(ctx, notifications.Event{
			Type:      notifications.EventListingCancelled,
			Signature: sig.String(),
			Actor:     seller.String(),
			Accounts:  []string{listingAddr.String(), seller.String(), receipt.Listing.Project.String()},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListingAddress derives the listing address for a project and seller.
func (o *Orchestrator) ListingAddress(project, seller ledger.PublicKey) (ledger.PublicKey, error) {
	d, err := o.builder.Deriver().Listing(project, seller)
	if err != nil {
		return ledger.PublicKey{}, err
	}
	return d.Address, nil
}

func (o *Orchestrator) readListing(ctx context.Context, addr ledger.PublicKey) (*ledger.Listing, error) {
	acc, err := o.client.GetAccount(ctx, addr)
	if err != nil {
		return nil, failure.Classify(err)
	}
	l, err := ledger.DecodeAs[ledger.Listing](acc)
	if err != nil {
		return nil, failure.Classify(err)
	}
	return l, nil
}
