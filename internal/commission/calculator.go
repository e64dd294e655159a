package commission

import (
	"github.com/shopspring/decimal"

	"payment-service/internal/payment"
)

// Calculate splits a gross amount into platform fee, processing fee and the
// vendor's net payout. Both fees are rounded half-up to the currency's minor
// unit; the net is computed as the exact remainder so the three parts always
// sum back to the gross amount.
func Calculate(gross decimal.Decimal, sched payment.Schedule) (payment.Breakdown, error) {
	if gross.LessThanOrEqual(decimal.Zero) {
		return payment.Breakdown{}, payment.ErrInvalidAmount
	}

	digits := sched.MinorUnitDigits
	if digits <= 0 {
		digits = 2
	}

	// decimal.Round rounds half away from zero, which is round-half-up for the
	// non-negative amounts accepted here.
	platformFee := gross.Mul(sched.PlatformRate).Round(digits)
	processingFee := gross.Mul(sched.ProcessingRate).Add(sched.ProcessingFixedFee).Round(digits)

	vendorNet := gross.Sub(platformFee).Sub(processingFee)
	if vendorNet.IsNegative() {
		return payment.Breakdown{}, payment.ErrInvalidAmount
	}

	return payment.Breakdown{
		PlatformFee:   platformFee,
		ProcessingFee: processingFee,
		VendorNet:     vendorNet,
	}, nil
}
