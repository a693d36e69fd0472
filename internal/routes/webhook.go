package routes

import (
	"github.com/mosaicstories/mosaic/internal/middleware"
	"github.com/mosaicstories/mosaic/internal/router"
)

// RegisterWebhookRoutes registers the billing provider webhook routes.
//
// Note: Webhook routes do NOT have authentication middleware.
// Each webhook handler is responsible for verifying the request
// signature (Stripe-Signature, X-RevenueCat-Signature, etc.).
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	group := r.Group(middleware.MaxBodySize(middleware.WebhookMaxBodySize))

	group.Post("/billing/stripe/webhook", deps.StripeHandler.HandleWebhook)
	group.Post("/billing/revenuecat/webhook", deps.RevenueCatHandler.HandleWebhook)
	group.Post("/billing/appstore/notifications", deps.AppStoreHandler.HandleNotification)
}
