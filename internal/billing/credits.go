package billing

// CreditConfig carries the credit amounts the reconciliation engine grants.
// Injected at construction so tests can run with deterministic values.
type CreditConfig struct {
	// SubscriptionBonus is the recurring credit grant on a new or renewed
	// subscription, applied under the re-delivery guard.
	SubscriptionBonus int32

	// ProductCredits maps one-time-purchase product identifiers to a
	// consumable credit amount. Unknown product ids grant nothing and are
	// not an error.
	ProductCredits map[string]int32

	// EntitlementID is the provider entitlement whose is_active flag is
	// consulted when a payload carries no usable expiry.
	EntitlementID string
}

// DefaultCreditConfig returns the production credit table.
func DefaultCreditConfig() CreditConfig {
	return CreditConfig{
		SubscriptionBonus: 30,
		ProductCredits: map[string]int32{
			"com.mosaic.credits_10": 10,
			"credits10":             10,
		},
		EntitlementID: "RC-Mosaic-AI",
	}
}

// CreditsFor returns the consumable grant for a product id, zero if unmapped.
func (c CreditConfig) CreditsFor(productID string) int32 {
	if productID == "" {
		return 0
	}
	return c.ProductCredits[productID]
}
