// Package config loads the scoring configuration from YAML and maps it onto
// engine parameter types.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"sitescore/internal/score"
)

// Config is the sitescore.yaml layout. Zero values fall back to engine
// defaults so a partial file is fine.
type Config struct {
	RadiusM               float64 `yaml:"radius_m"`
	NeighborCountRadiusM  float64 `yaml:"neighbor_count_radius_m"`
	IntrinsicMultiplier   float64 `yaml:"intrinsic_multiplier"`
	NeighborMultiplier    float64 `yaml:"neighbor_multiplier"`
	WeeklyHoursFull       float64 `yaml:"weekly_hours_full"`
	DefaultCategoryWeight float64 `yaml:"default_category_weight"`

	Estimator struct {
		Mode string `yaml:"mode"`
		K    int    `yaml:"k"`
	} `yaml:"estimator"`

	Risk struct {
		HighBelow   float64 `yaml:"high_below"`
		MediumBelow float64 `yaml:"medium_below"`
	} `yaml:"risk"`

	Lookup struct {
		DecayM float64 `yaml:"decay_m"`
		Limit  int     `yaml:"limit"`
	} `yaml:"lookup"`

	Categories []CategoryWeight `yaml:"categories"`
}

// CategoryWeight configures one POI category.
type CategoryWeight struct {
	Name               string             `yaml:"name"`
	Weight             float64            `yaml:"weight"`
	SubcategoryDefault float64            `yaml:"subcategory_default"`
	Subcategories      map[string]float64 `yaml:"subcategories"`
}

// Default returns the built-in configuration mirroring the historical
// category importances.
func Default() Config {
	var c Config
	c.RadiusM = 1500
	c.NeighborCountRadiusM = 1000
	c.IntrinsicMultiplier = 1
	c.NeighborMultiplier = 1
	c.WeeklyHoursFull = score.DefaultWeeklyHours
	c.DefaultCategoryWeight = 0.9
	c.Estimator.Mode = score.ModeApprox
	c.Estimator.K = score.DefaultK
	c.Risk.HighBelow = 1.0
	c.Risk.MediumBelow = 2.0
	c.Categories = []CategoryWeight{
		{Name: "banks", Weight: 0.6},
		{Name: "education", Weight: 1.0},
		{Name: "health", Weight: 0.9},
		{Name: "temples", Weight: 0.8},
		{Name: "other", Weight: 0.9},
	}
	return c
}

// Load reads a YAML config file, overlaying it on Default. An empty path
// returns Default unchanged; a missing file is an error so typos in the env
// var do not silently downgrade the config.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	if c.Estimator.Mode != "" && c.Estimator.Mode != score.ModeApprox && c.Estimator.Mode != score.ModeExact {
		return c, fmt.Errorf("estimator mode %q: want %s or %s", c.Estimator.Mode, score.ModeApprox, score.ModeExact)
	}
	return c, nil
}

// BuildParams maps the config to offline build parameters.
func (c Config) BuildParams() score.BuildParams {
	p := score.BuildParams{
		RadiusM:               c.RadiusM,
		NeighborCountRadiusM:  c.NeighborCountRadiusM,
		IntrinsicMultiplier:   c.IntrinsicMultiplier,
		NeighborMultiplier:    c.NeighborMultiplier,
		WeeklyHoursFull:       c.WeeklyHoursFull,
		DefaultCategoryWeight: c.DefaultCategoryWeight,
	}
	for _, cw := range c.Categories {
		cc := score.CategoryConfig{Name: cw.Name, StaticWeight: cw.Weight}
		if len(cw.Subcategories) > 0 {
			def := cw.SubcategoryDefault
			if def == 0 {
				def = 0.5
			}
			cc.Subcategories = &score.SubcategoryWeights{Default: def, ByName: cw.Subcategories}
		}
		p.Categories = append(p.Categories, cc)
	}
	return p
}

// EstimatorConfig maps the config to the online estimator settings.
func (c Config) EstimatorConfig() score.EstimatorConfig {
	return score.EstimatorConfig{Mode: c.Estimator.Mode, K: c.Estimator.K}
}

// RiskThresholds maps the config to score bucket thresholds.
func (c Config) RiskThresholds() score.RiskThresholds {
	t := score.DefaultRiskThresholds()
	if c.Risk.HighBelow != 0 {
		t.HighBelow = c.Risk.HighBelow
	}
	if c.Risk.MediumBelow != 0 {
		t.MediumBelow = c.Risk.MediumBelow
	}
	return t
}

// LookupParams maps the config to POI lookup weighting.
func (c Config) LookupParams() score.LookupParams {
	return score.LookupParams{DecayM: c.Lookup.DecayM, Limit: c.Lookup.Limit}
}
