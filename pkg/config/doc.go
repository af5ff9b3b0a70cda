// Package config provides application configuration management from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	CLAIMGATE_PORT="8080"
//	CLAIMGATE_HEALTH_PORT="9090"
//	CLAIMGATE_BASE_URL="https://app.example.com"
//	CLAIMGATE_ADMIN_API_KEY="..."
//
// Storage settings:
//
//	CLAIMGATE_POSTGRES_URL="postgres://localhost/claimgate"
//	CLAIMGATE_REDIS_URL="redis://localhost:6379"  # optional, sessions + throttling
//
// Billing and mail:
//
//	CLAIMGATE_STRIPE_SECRET_KEY="sk_..."
//	CLAIMGATE_STRIPE_WEBHOOK_SECRET="whsec_..."
//	CLAIMGATE_SMTP_ENABLED="true"
//	CLAIMGATE_SMTP_HOST="smtp.example.com"
//
// Entitlements:
//
//	CLAIMGATE_ENTITLEMENTS_PATH="/etc/claimgate/entitlements.yaml"
//
// Observability settings:
//
//	CLAIMGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	CLAIMGATE_OTEL_ENABLED="true"
//	CLAIMGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
