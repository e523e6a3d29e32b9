package billing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// Unlimited indicates no usage cap for a plan (-1 chosen for SQL compatibility).
	Unlimited int64 = -1

	// Default alert thresholds as percentage of the plan quota.
	DefaultWarnPercent    = 80
	DefaultUpgradePercent = 90
)

// PlanConfig holds the per-tier quota and pricing.
type PlanConfig struct {
	Quota      int64 `yaml:"quota"` // generations per period, Unlimited for no cap
	PriceCents int64 `yaml:"price_cents"`
}

// PromoCode grants a plan upgrade, optionally with beta access for a
// limited number of days.
type PromoCode struct {
	Plan         Plan `yaml:"plan"`
	BetaGrant    bool `yaml:"beta_grant"`
	DurationDays int  `yaml:"duration_days"`
}

// Catalog is the immutable billing configuration: plan quotas and prices,
// the promo code table, the overage rate, and alert thresholds.
// It is constructed once at startup and passed into components explicitly;
// there is no mutable module-level state.
type Catalog struct {
	Plans            map[Plan]PlanConfig  `yaml:"plans"`
	PromoCodes       map[string]PromoCode `yaml:"promo_codes"`
	OverageRateCents int64                `yaml:"overage_rate_cents"`
	WarnPercent      int                  `yaml:"warn_percent"`
	UpgradePercent   int                  `yaml:"upgrade_percent"`
}

// Quota returns the usage quota for a plan. Unknown plans fall back to
// the trial quota so a misconfigured account never gets unlimited usage.
func (c Catalog) Quota(p Plan) int64 {
	if cfg, ok := c.Plans[p]; ok {
		return cfg.Quota
	}
	return c.Plans[PlanTrial].Quota
}

// PriceCents returns the plan price, 0 for unknown plans.
func (c Catalog) PriceCents(p Plan) int64 {
	return c.Plans[p].PriceCents
}

// Validate ensures the catalog covers every tier and that promo codes
// reference valid plans. Called by every constructor that accepts a catalog.
func (c Catalog) Validate() error {
	for _, p := range Plans() {
		cfg, ok := c.Plans[p]
		if !ok {
			return fmt.Errorf("%w: missing plan %q", ErrInvalidCatalog, p)
		}
		if cfg.Quota < Unlimited {
			return fmt.Errorf("%w: plan %q has invalid quota %d", ErrInvalidCatalog, p, cfg.Quota)
		}
	}
	for code, promo := range c.PromoCodes {
		if !promo.Plan.Valid() {
			return fmt.Errorf("%w: promo code %q targets unknown plan %q", ErrInvalidCatalog, code, promo.Plan)
		}
		if promo.BetaGrant && promo.DurationDays <= 0 {
			return fmt.Errorf("%w: beta promo code %q needs a positive duration", ErrInvalidCatalog, code)
		}
	}
	if c.OverageRateCents < 0 {
		return fmt.Errorf("%w: negative overage rate", ErrInvalidCatalog)
	}
	return nil
}

// withDefaults fills zero thresholds with the documented reference values.
func (c Catalog) withDefaults() Catalog {
	if c.WarnPercent == 0 {
		c.WarnPercent = DefaultWarnPercent
	}
	if c.UpgradePercent == 0 {
		c.UpgradePercent = DefaultUpgradePercent
	}
	return c
}

// DefaultCatalog returns the built-in plan configuration. Quotas and
// prices mirror the public pricing page; overage is billed per generation.
func DefaultCatalog() Catalog {
	return Catalog{
		Plans: map[Plan]PlanConfig{
			PlanTrial:   {Quota: 10, PriceCents: 0},
			PlanStarter: {Quota: 100, PriceCents: 1900},
			PlanPro:     {Quota: 500, PriceCents: 4900},
			PlanAgency:  {Quota: Unlimited, PriceCents: 14900},
		},
		PromoCodes:       map[string]PromoCode{},
		OverageRateCents: 10,
		WarnPercent:      DefaultWarnPercent,
		UpgradePercent:   DefaultUpgradePercent,
	}
}

// CatalogSource loads the billing catalog at service construction time.
type CatalogSource interface {
	Load(ctx context.Context) (Catalog, error)
}

// StaticCatalogSource serves a fixed catalog, mainly useful in tests and
// single-binary deployments with compiled-in pricing.
type StaticCatalogSource struct {
	catalog Catalog
}

func NewStaticCatalogSource(c Catalog) *StaticCatalogSource {
	return &StaticCatalogSource{catalog: c}
}

func (s *StaticCatalogSource) Load(ctx context.Context) (Catalog, error) {
	c := s.catalog.withDefaults()
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// FileCatalogSource reads the catalog from a YAML file so pricing and
// promo codes can change without a rebuild.
type FileCatalogSource struct {
	path string
}

func NewFileCatalogSource(path string) *FileCatalogSource {
	return &FileCatalogSource{path: path}
}

func (s *FileCatalogSource) Load(ctx context.Context) (Catalog, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Catalog{}, errors.Join(ErrFailedToLoadCatalog, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, errors.Join(ErrFailedToLoadCatalog, err)
	}

	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}
