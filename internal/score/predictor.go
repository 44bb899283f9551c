package score

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"sitescore/internal/mlmodel"
	"sitescore/internal/model"
)

const ratioEpsilon = 1e-6

// ErrNoModel means the frozen scoring artifact is not loaded; predictions
// cannot be served without it.
var ErrNoModel = errors.New("scoring model artifact not loaded")

// RiskThresholds buckets a predicted score into a coarse label.
type RiskThresholds struct {
	HighBelow   float64
	MediumBelow float64
}

func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{HighBelow: 1.0, MediumBelow: 2.0}
}

func (t RiskThresholds) Label(score float64) string {
	switch {
	case score < t.HighBelow:
		return "High"
	case score < t.MediumBelow:
		return "Medium"
	default:
		return "Low"
	}
}

// Predictor glues the estimator to the frozen scoring model. A nil Features
// list puts the predictor in degraded mode: every engineered feature is fed
// to the model in sorted order, with a warning logged once. A nil Model is
// not degraded, it is unavailable; Predict returns ErrNoModel.
type Predictor struct {
	Model    *mlmodel.Model
	Features []string
	Est      *Estimator
	Risk     RiskThresholds

	warnOnce sync.Once
}

// EngineerFeatures derives the model's composed features from the raw
// estimated vector: total POI count, per-category ratios of that total, and
// the dynamic-weighted POI strength.
func EngineerFeatures(f map[string]float64, c *Corpus) {
	suffix := c.Suffix
	total := 0.0
	for i := range c.Categories {
		total += f[c.Categories[i].Name+"_count"+suffix]
	}
	f["total_poi_count"+suffix] = total
	strength := 0.0
	for i := range c.Categories {
		snap := &c.Categories[i]
		f[snap.Name+"_ratio"] = f[snap.Name+"_count"+suffix] / (total + ratioEpsilon)
		strength += f[snap.Name+"_weight"+suffix] * snap.Dynamic
	}
	f["weighted_poi_strength"] = strength
}

// Predict estimates the feature vector for a point and scores it.
func (p *Predictor) Predict(ctx context.Context, lat, lon float64) (model.PredictResponse, error) {
	if p.Model == nil {
		return model.PredictResponse{}, ErrNoModel
	}
	features, err := p.Est.Estimate(ctx, lat, lon)
	if err != nil {
		return model.PredictResponse{}, err
	}
	EngineerFeatures(features, p.Est.Corpus)

	names := p.Features
	degraded := false
	if len(names) == 0 {
		degraded = true
		p.warnOnce.Do(func() {
			log.Printf("predict: feature-name list missing, using all %d estimated features", len(features))
		})
		names = make([]string, 0, len(features))
		for k := range features {
			names = append(names, k)
		}
		sort.Strings(names)
	}
	vector := make([]float64, len(names))
	for i, name := range names {
		vector[i] = features[name]
	}
	score := p.Model.Predict(names, vector)

	resp := model.PredictResponse{
		PredictedScore:    score,
		RiskLevel:         p.Risk.Label(score),
		EstimatedFeatures: features,
		Mode:              p.Est.Cfg.Mode,
		Degraded:          degraded,
	}
	return resp, nil
}

// FeatureCoverage reports which requested feature names the corpus can
// actually produce, for the admin diagnostics endpoint.
func (p *Predictor) FeatureCoverage() (present, missing []string) {
	if len(p.Features) == 0 {
		return nil, nil
	}
	known := map[string]struct{}{}
	for _, k := range p.Est.Corpus.FeatureKeys() {
		known[k] = struct{}{}
	}
	suffix := p.Est.Corpus.Suffix
	known["total_poi_count"+suffix] = struct{}{}
	known["weighted_poi_strength"] = struct{}{}
	for _, name := range p.Est.Corpus.CategoryNames() {
		known[name+"_ratio"] = struct{}{}
	}
	for _, f := range p.Features {
		if _, ok := known[f]; ok || strings.HasSuffix(f, "_ratio") {
			present = append(present, f)
		} else {
			missing = append(missing, f)
		}
	}
	return present, missing
}
