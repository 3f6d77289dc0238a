package config

import (
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

// FiscalConfig describes the issuer and the document series the engine emits.
type FiscalConfig struct {
	Issuer               IssuerConfig               `mapstructure:"issuer" validate:"required"`
	VATPercent           float64                    `mapstructure:"vatPercent" validate:"gte=0,lte=100"`
	VATCategory          int                        `mapstructure:"vatCategory" validate:"required,gte=1"`
	IncomeClassification IncomeClassificationConfig `mapstructure:"incomeClassification" validate:"required"`
	Series               SeriesConfig               `mapstructure:"series" validate:"required"`
	DefaultPlan          string                     `mapstructure:"defaultPlan" validate:"required"`
	Plans                []PlanDefaults             `mapstructure:"plans" validate:"dive"`
}

type IssuerConfig struct {
	VATNumber string `mapstructure:"vatNumber" validate:"required"`
	Country   string `mapstructure:"country" validate:"required,len=2"`
	Branch    int    `mapstructure:"branch" validate:"gte=0"`
	Name      string `mapstructure:"name"`
}

type IncomeClassificationConfig struct {
	Type     string `mapstructure:"type" validate:"required"`
	Category string `mapstructure:"category" validate:"required"`
}

type SeriesConfig struct {
	Receipt SeriesDefinition `mapstructure:"receipt" validate:"required"`
	Invoice SeriesDefinition `mapstructure:"invoice" validate:"required"`
}

type SeriesDefinition struct {
	Code        string `mapstructure:"code" validate:"required"`
	InvoiceType string `mapstructure:"invoiceType" validate:"required"`
}

type PlanDefaults struct {
	Name        string          `mapstructure:"name" validate:"required"`
	DisplayName string          `mapstructure:"displayName"`
	PriceCents  int64           `mapstructure:"priceCents" validate:"gte=0"`
	Currency    string          `mapstructure:"currency" validate:"omitempty,len=3"`
	Features    map[string]bool `mapstructure:"features"`
}

func DefaultFiscalConfig() FiscalConfig {
	return FiscalConfig{
		Issuer: IssuerConfig{
			Country: "GR",
		},
		VATPercent:  24,
		VATCategory: 1,
		IncomeClassification: IncomeClassificationConfig{
			Type:     "E3_561_001",
			Category: "category1_3",
		},
		Series: SeriesConfig{
			Receipt: SeriesDefinition{Code: "APY", InvoiceType: "11.2"},
			Invoice: SeriesDefinition{Code: "TPY", InvoiceType: "2.1"},
		},
		DefaultPlan: "premium",
		Plans: []PlanDefaults{
			{Name: "premium", DisplayName: "Premium", PriceCents: 2000, Currency: "EUR"},
		},
	}
}

// PlanDefaults returns the catalog entry for name, if any.
func (c FiscalConfig) PlanDefaults(name string) (PlanDefaults, bool) {
	for _, p := range c.Plans {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return p, true
		}
	}
	return PlanDefaults{}, false
}

type FiscalConfigHolder struct {
	current atomic.Value // holds FiscalConfig
}

// NewFiscalConfigHolder reads fiscal.yml, applies FISCALSYNC_* overrides and
// keeps watching the file for changes. Invalid reloads are ignored.
func NewFiscalConfigHolder(cfg Config, log *zap.Logger) (*FiscalConfigHolder, error) {
	log = log.Named("fiscal.config")
	v := viper.New()

	if cfg.FiscalConfigPath != "" {
		v.SetConfigFile(cfg.FiscalConfigPath)
	} else {
		v.SetConfigName("fiscal")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/fiscalsync")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FISCALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setFiscalDefaults(v, DefaultFiscalConfig())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, ierr.WithError(err).
				WithMessage("read fiscal config").
				Mark(ierr.ErrConfiguration)
		}
		fileFound = false
		log.Warn("fiscal config file not found, using defaults and environment")
	}

	fiscal, err := decodeFiscalConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticFiscalConfigHolder(fiscal)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeFiscalConfig(v)
		if err != nil {
			log.Warn("invalid fiscal config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.Set(updated)
		log.Info("fiscal config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func NewStaticFiscalConfigHolder(cfg FiscalConfig) *FiscalConfigHolder {
	holder := &FiscalConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *FiscalConfigHolder) Get() FiscalConfig {
	return h.current.Load().(FiscalConfig)
}

// Set swaps the active fiscal config. In-flight readers keep the value they
// already loaded.
func (h *FiscalConfigHolder) Set(cfg FiscalConfig) {
	h.current.Store(cfg)
}

func decodeFiscalConfig(v *viper.Viper) (FiscalConfig, error) {
	// Unmarshal walks every known leaf key, so defaults and FISCALSYNC_*
	// overrides merge with a partial file.
	var root struct {
		Fiscal FiscalConfig `mapstructure:"fiscal"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return FiscalConfig{}, ierr.WithError(err).
			WithMessage("decode fiscal config").
			Mark(ierr.ErrConfiguration)
	}
	if err := ValidateFiscalConfig(root.Fiscal); err != nil {
		return FiscalConfig{}, err
	}
	return root.Fiscal, nil
}

var fiscalValidator = validator.New(validator.WithRequiredStructEnabled())

func ValidateFiscalConfig(cfg FiscalConfig) error {
	if err := fiscalValidator.Struct(cfg); err != nil {
		return ierr.WithError(err).
			WithMessage("invalid fiscal config").
			Mark(ierr.ErrConfiguration)
	}
	if strings.EqualFold(cfg.Series.Receipt.Code, cfg.Series.Invoice.Code) {
		return ierr.NewError("receipt and invoice series must differ").Mark(ierr.ErrConfiguration)
	}
	return nil
}

func setFiscalDefaults(v *viper.Viper, d FiscalConfig) {
	v.SetDefault("fiscal.issuer.vatNumber", d.Issuer.VATNumber)
	v.SetDefault("fiscal.issuer.country", d.Issuer.Country)
	v.SetDefault("fiscal.issuer.branch", d.Issuer.Branch)
	v.SetDefault("fiscal.issuer.name", d.Issuer.Name)
	v.SetDefault("fiscal.vatPercent", d.VATPercent)
	v.SetDefault("fiscal.vatCategory", d.VATCategory)
	v.SetDefault("fiscal.incomeClassification.type", d.IncomeClassification.Type)
	v.SetDefault("fiscal.incomeClassification.category", d.IncomeClassification.Category)
	v.SetDefault("fiscal.series.receipt.code", d.Series.Receipt.Code)
	v.SetDefault("fiscal.series.receipt.invoiceType", d.Series.Receipt.InvoiceType)
	v.SetDefault("fiscal.series.invoice.code", d.Series.Invoice.Code)
	v.SetDefault("fiscal.series.invoice.invoiceType", d.Series.Invoice.InvoiceType)
	v.SetDefault("fiscal.defaultPlan", d.DefaultPlan)
	v.SetDefault("fiscal.plans", []map[string]any{
		{"name": d.Plans[0].Name, "displayName": d.Plans[0].DisplayName, "priceCents": d.Plans[0].PriceCents, "currency": d.Plans[0].Currency},
	})
}
