package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// FeeSource looks up platform fee configuration by channel type key.
type FeeSource interface {
	FeeConfig(ctx context.Context, channelType string) (*models.FeeConfig, error)
}

var oneHundred = decimal.NewFromInt(100)

// computeFee derives the total fee (bank fee plus VAT) for a payment whose
// upstream fee breakdown is still pending, from the channel's fee
// configuration:
//
//   - QR channels: bank fee = amount * fee_percent / 100, rounded down;
//     VAT = bank fee * vat_percent / 100, rounded down.
//   - VA channels: bank fee = flat fee;
//     VAT = bank fee * vat_percent / 100, rounded to nearest.
func computeFee(amount int64, channel models.ChannelCategory, cfg *models.FeeConfig) int64 {
	vatRate := cfg.VATPercent.Div(oneHundred)

	if channel == models.ChannelQRCode {
		bank := decimal.NewFromInt(amount).Mul(cfg.FeePercent.Div(oneHundred)).Floor()
		vat := bank.Mul(vatRate).Floor()
		return bank.Add(vat).IntPart()
	}

	bank := decimal.NewFromInt(cfg.FeeFlat)
	vat := bank.Mul(vatRate).Round(0)
	return bank.Add(vat).IntPart()
}

// feeFor resolves the fee deducted from a root route's flat amount. When the
// upstream breakdown is final the route's pre-computed TotalFee is
// authoritative; when it is pending the fee is computed from configuration,
// with the route's TotalFee kept as a fallback cache when no configuration
// row exists for the channel.
func (r *Resolver) feeFor(ctx context.Context, p Payment, route models.Route) (int64, error) {
	if !p.FeePending {
		if route.TotalFee > 0 {
			return route.TotalFee, nil
		}
		return p.BankFee + p.VAT, nil
	}

	channelType := models.FeeTypeVA
	if p.Channel == models.ChannelQRCode {
		channelType = models.FeeTypeQRIS
	}
	cfg, err := r.fees.FeeConfig(ctx, channelType)
	if errors.Is(err, storage.ErrNotFound) {
		return route.TotalFee, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve pending fee for %s: %w", p.Reference, err)
	}
	return computeFee(p.Amount, p.Channel, cfg), nil
}
