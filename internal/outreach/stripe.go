package outreach

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"

	"github.com/duepilot/duepilot/internal/analyzer"
	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
)

// StripeLinks creates hosted checkout links for invoices. Without an API key
// it falls back to deterministic local links so development environments can
// run the full dispatch path.
type StripeLinks struct {
	configured bool
}

// NewStripeLinks constructs the adapter and installs the API key globally, the
// way the Stripe SDK expects.
func NewStripeLinks(cfg *config.Config) *StripeLinks {
	if cfg.StripeAPIKey == "" {
		return &StripeLinks{}
	}
	stripe.Key = cfg.StripeAPIKey
	return &StripeLinks{configured: true}
}

// PaymentLink returns a URL collecting the invoice balance. An unexpired
// discount incentive reduces the charged amount.
func (s *StripeLinks) PaymentLink(ctx context.Context, inv ar.Invoice, incentive *analyzer.IncentiveOffer) (string, error) {
	amount := inv.AmountDue()
	if incentive != nil && incentive.Kind == analyzer.IncentiveDiscount {
		amount -= incentive.DiscountAmount(amount)
	}
	if !s.configured {
		return fmt.Sprintf("https://pay.duepilot.local/%s", inv.ID), nil
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String("usd"),
				UnitAmount: stripe.Int64(int64(amount * 100)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Invoice " + inv.Number),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		ClientReferenceID: stripe.String(inv.ID.String()),
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("outreach: stripe checkout: %w", err)
	}
	return sess.URL, nil
}
