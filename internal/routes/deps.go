package routes

import (
	"net/http"

	"github.com/mosaicstories/mosaic/internal/handler/api"
	"github.com/mosaicstories/mosaic/internal/handler/webhook"
)

// WebhookDeps contains dependencies for billing webhook routes
type WebhookDeps struct {
	StripeHandler     *webhook.StripeHandler
	RevenueCatHandler *webhook.RevenueCatHandler
	AppStoreHandler   *webhook.AppStoreHandler
}

// APIDeps contains dependencies for the user-facing API routes
type APIDeps struct {
	UserHandler *api.UserHandler
}

// OpsDeps contains dependencies for operational routes
type OpsDeps struct {
	MetricsHandler http.Handler
}
