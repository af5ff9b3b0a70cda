// Package membership defines membership tiers, user records and the resolver
// that turns billing price identifiers into a tier.
//
// # Tiers
//
// Tiers form a total order: free < starter < pro < enterprise. When a billing
// event carries several prices the highest mapped tier wins; when none is
// mapped the configured default applies.
//
//	resolver := membership.NewResolver(map[string]membership.Tier{
//		"price_123STARTER": membership.TierStarter,
//		"price_456PRO":     membership.TierPro,
//	}, membership.TierFree)
//	resolver.Resolve([]string{"price_123STARTER", "price_456PRO"}) // TierPro
//
// # Emails
//
// Users are keyed by NormalizeEmail(email). Callers normalize before every
// lookup or write.
package membership
