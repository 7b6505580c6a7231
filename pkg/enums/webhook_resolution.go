package enums

// WebhookResolution records how a gateway notification was tied to an order.
type WebhookResolution string

const (
	WebhookResolvedNone            WebhookResolution = ""
	WebhookResolvedMerchantOrderID WebhookResolution = "merchant_order_id"
	WebhookResolvedProviderOrderID WebhookResolution = "provider_order_id"
	// WebhookResolvedAmountMatch is best effort and ambiguous when two pending
	// orders share an amount.
	WebhookResolvedAmountMatch WebhookResolution = "amount_match"
)

// String implements fmt.Stringer.
func (w WebhookResolution) String() string {
	return string(w)
}

// Resolved reports whether an order id was attached.
func (w WebhookResolution) Resolved() bool {
	return w != WebhookResolvedNone
}
