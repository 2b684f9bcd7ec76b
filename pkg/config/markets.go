package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// MarketsFile is the on-disk shape of the market configuration. Clock
// values are "HH:MM" or "HH:MM:SS" in the market's own timezone.
type MarketsFile struct {
	Markets []MarketEntry `yaml:"markets" validate:"dive"`
}

type MarketEntry struct {
	Key             string        `yaml:"key" validate:"required"`
	DisplayName     string        `yaml:"display_name"`
	Timezone        string        `yaml:"timezone" validate:"required"`
	Open            string        `yaml:"open" validate:"required"`
	Close           string        `yaml:"close" validate:"required"`
	Weight          float64       `yaml:"weight" validate:"gte=0,lte=1"`
	IsControlMarket *bool         `yaml:"is_control_market"`
	IsActive        *bool         `yaml:"is_active"`
	Region          string        `yaml:"region"`
	Weekend         []string      `yaml:"weekend" default:"[\"saturday\",\"sunday\"]"`
	Holidays        HolidaysEntry `yaml:"holidays"`
}

type HolidaysEntry struct {
	Preset     string `yaml:"preset"`
	Observance string `yaml:"observance" validate:"omitempty,oneof=weekend_shift next_weekday sunday_next none"`
	Fixed      []struct {
		Name           string `yaml:"name" validate:"required"`
		Month          string `yaml:"month" validate:"required"`
		Day            int    `yaml:"day" validate:"gte=1,lte=31"`
		SkipObservance bool   `yaml:"skip_observance"`
	} `yaml:"fixed" validate:"dive"`
	NthWeekday []struct {
		Name       string `yaml:"name" validate:"required"`
		Month      string `yaml:"month" validate:"required"`
		Weekday    string `yaml:"weekday" validate:"required"`
		N          int    `yaml:"n" validate:"ne=0,gte=-5,lte=5"`
		OnOrBefore int    `yaml:"on_or_before" validate:"gte=0,lte=31"`
	} `yaml:"nth_weekday" validate:"dive"`
	Easter []struct {
		Name   string `yaml:"name" validate:"required"`
		Offset int    `yaml:"offset"`
		Julian bool   `yaml:"julian"`
	} `yaml:"easter" validate:"dive"`
	Overrides []struct {
		Date         string `yaml:"date" validate:"required"`
		IsTradingDay bool   `yaml:"is_trading_day"`
		HolidayName  string `yaml:"holiday_name"`
		Open         string `yaml:"open"`
		Close        string `yaml:"close"`
	} `yaml:"overrides" validate:"dive"`
}

// ControlMarket reports is_control_market, defaulting to true.
func (m MarketEntry) ControlMarket() bool { return m.IsControlMarket == nil || *m.IsControlMarket }

// Active reports is_active, defaulting to true.
func (m MarketEntry) Active() bool { return m.IsActive == nil || *m.IsActive }

// LoadMarkets reads, defaults and structurally validates a markets file.
// Semantic checks (zones, clocks, rules) belong to the config source.
func LoadMarkets(path string) (*MarketsFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets: %w", err)
	}
	return ParseMarkets(b)
}

func ParseMarkets(b []byte) (*MarketsFile, error) {
	var f MarketsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse markets: %w", err)
	}
	for i := range f.Markets {
		if err := defaults.Set(&f.Markets[i]); err != nil {
			return nil, fmt.Errorf("markets defaults: %w", err)
		}
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("validate markets: %w", err)
	}
	return &f, nil
}
