package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig is the billing policy loaded from billing.yml.
type BillingConfig struct {
	TaxRatePercent     float64 `mapstructure:"taxRatePercent"`
	DueInDays          int     `mapstructure:"dueInDays"`
	Currency           string  `mapstructure:"currency"`
	InvoicePrefix      string  `mapstructure:"invoicePrefix"`
	MinInstallments    int     `mapstructure:"minInstallments"`
	MaxInstallments    int     `mapstructure:"maxInstallments"`
	CheckoutSuccessURL string  `mapstructure:"checkoutSuccessURL"`
	CheckoutCancelURL  string  `mapstructure:"checkoutCancelURL"`
	PlanProductName    string  `mapstructure:"planProductName"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		TaxRatePercent:     0,
		DueInDays:          30,
		Currency:           "usd",
		InvoicePrefix:      "INV",
		MinInstallments:    2,
		MaxInstallments:    24,
		CheckoutSuccessURL: "http://localhost:8080/portal/payment-plans/success",
		CheckoutCancelURL:  "http://localhost:8080/portal/payment-plans/cancel",
		PlanProductName:    "Invoice payment plan",
	}
}

// TaxRate returns the default tax rate as a percentage.
func (c BillingConfig) TaxRate() decimal.Decimal {
	return decimal.NewFromFloat(c.TaxRatePercent)
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfig returns a holder that never reloads.
func NewStaticBillingConfig(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/clientbilling")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLIENTBILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.taxRatePercent", defaults.TaxRatePercent)
	v.SetDefault("billing.dueInDays", defaults.DueInDays)
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.invoicePrefix", defaults.InvoicePrefix)
	v.SetDefault("billing.minInstallments", defaults.MinInstallments)
	v.SetDefault("billing.maxInstallments", defaults.MaxInstallments)
	v.SetDefault("billing.checkoutSuccessURL", defaults.CheckoutSuccessURL)
	v.SetDefault("billing.checkoutCancelURL", defaults.CheckoutCancelURL)
	v.SetDefault("billing.planProductName", defaults.PlanProductName)

	configFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		configFound = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfig(cfg)
	if !configFound {
		return holder, nil
	}

	log = log.Named("config.billing")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		if err := ValidateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if cfg.TaxRatePercent < 0 || cfg.TaxRatePercent > 100 {
		return errors.New("billing.taxRatePercent must be between 0 and 100")
	}
	if cfg.DueInDays <= 0 {
		return errors.New("billing.dueInDays must be positive")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("billing.currency cannot be empty")
	}
	if strings.TrimSpace(cfg.InvoicePrefix) == "" {
		return errors.New("billing.invoicePrefix cannot be empty")
	}
	if cfg.MinInstallments < 2 {
		return errors.New("billing.minInstallments must be at least 2")
	}
	if cfg.MaxInstallments < cfg.MinInstallments {
		return errors.New("billing.maxInstallments must be >= minInstallments")
	}
	return nil
}
