// Package billing implements the subscription core: ordered plan tiers,
// the per-user billing account, the plan determination policy, promo
// codes, and the overage accountant.
//
// # Plan tiers
//
// Plans form a strict order: trial < starter < pro < agency. The Service
// state machine enforces that purchase events can only move an account
// sideways or up; the only way down is CancelOrExpire. This asymmetry is
// what makes the system safe under duplicated and out-of-order webhook
// delivery: replaying an old upgrade is a no-op, and a forged or
// malformed purchase event cannot strip a paying user's entitlement.
//
// # Plan determination
//
// DeterminePlan maps opaque provider product metadata to a tier using
// explicit custom data first, then tier keywords in the product/variant
// names, then a flagged mid-tier fallback. The fallback flag exists so
// unrecognized products surface in logs instead of silently
// provisioning the wrong tier.
//
// # Configuration
//
// All pricing, quotas, promo codes, and thresholds live in an immutable
// Catalog passed to constructors. Load it from YAML with
// NewFileCatalogSource or compile it in with NewStaticCatalogSource.
//
// # Overage
//
// Accountant.Evaluate is read-only. The idempotent "warning already
// sent" flag is a separate concern handled by WarningMarker, with a
// Redis SET NX implementation for cross-process atomicity.
package billing
