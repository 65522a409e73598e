package audience

import (
	"fmt"
	"math"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

const maxAlternatives = 3

// DefaultChannelModifiers scale overall coverage to channel reach.
var DefaultChannelModifiers = map[string]float64{
	"display":    1.0,
	"video":      0.85,
	"ctv":        0.60,
	"mobile_app": 0.70,
}

type Config struct {
	Threshold        float64                    `split_words:"true" default:"0.5"`
	ValidThreshold   float64                    `split_words:"true" default:"0.7"`
	MinPartial       float64                    `split_words:"true" default:"0.3"`
	Metric           contractx.SimilarityMetric `split_words:"true"`
	ConsentRequired  bool                       `split_words:"true" default:"false"`
	ChannelModifiers map[string]float64         `split_words:"true"`
}

func (c Config) normalized() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.ValidThreshold < c.Threshold {
		c.ValidThreshold = math.Max(0.7, c.Threshold)
	}
	if c.MinPartial <= 0 || c.MinPartial > c.Threshold {
		c.MinPartial = math.Min(0.3, c.Threshold)
	}
	if len(c.ChannelModifiers) == 0 {
		c.ChannelModifiers = DefaultChannelModifiers
	}
	return c
}

type Matcher struct {
	cfg Config
}

func NewMatcher(cfg Config) (*Matcher, error) {
	if cfg.Metric != "" && !cfg.Metric.Valid() {
		return nil, fmt.Errorf("%w: unknown similarity metric %q", contractx.ErrValidation, cfg.Metric)
	}
	return &Matcher{cfg: cfg.normalized()}, nil
}

// Dimension is one requirement sub-dimension to be covered.
type Dimension struct {
	Label  string
	Vector []float64
}

// Dimensions flattens a requirement. Demographics become "key=value",
// interests and behaviors are kept verbatim. Order is deterministic.
func Dimensions(req contractx.AudienceRequirement) []Dimension {
	var labels []string
	keys := make([]string, 0, len(req.Demographics))
	for k := range req.Demographics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		labels = append(labels, k+"="+req.Demographics[k])
	}
	labels = append(labels, req.Interests...)
	labels = append(labels, req.Behaviors...)

	seen := make(map[string]bool, len(labels))
	out := make([]Dimension, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, Dimension{Label: l, Vector: req.Embeddings[l]})
	}
	return out
}

type candidate struct {
	id         string
	dimension  int
	similarity float64
}

// better orders candidates by similarity, then declared dimensionality,
// then identifier.
func better(a, b candidate) bool {
	if a.similarity != b.similarity {
		return a.similarity > b.similarity
	}
	if a.dimension != b.dimension {
		return a.dimension > b.dimension
	}
	return a.id < b.id
}

func (m *Matcher) metricFor(c contractx.AudienceCapability) contractx.SimilarityMetric {
	if m.cfg.Metric != "" {
		return m.cfg.Metric
	}
	if c.Embedding.Model.Metric.Valid() {
		return c.Embedding.Model.Metric
	}
	return contractx.MetricCosine
}

// Match estimates how much of req the capabilities cover. The consent gate
// runs before any vector is touched.
func (m *Matcher) Match(req contractx.AudienceRequirement, caps []contractx.AudienceCapability) (contractx.CoverageEstimate, error) {
	if m.cfg.ConsentRequired && strings.TrimSpace(req.ConsentToken) == "" {
		return contractx.CoverageEstimate{}, fmt.Errorf("%w: audience matching needs a consent token", contractx.ErrConsentRequired)
	}

	dims := Dimensions(req)
	if len(dims) == 0 {
		return contractx.CoverageEstimate{}, fmt.Errorf("%w: audience requirement has no dimensions", contractx.ErrValidation)
	}

	est := contractx.CoverageEstimate{Gaps: []string{}}
	belowByCap := make(map[string]candidate)
	var scoreSum float64

	for _, d := range dims {
		var (
			best  candidate
			found bool
			below []candidate
		)
		for _, c := range caps {
			vec := d.Vector
			if len(vec) == 0 {
				vec = QueryEmbedding(d.Label, len(c.Embedding.Vector))
			}
			cand := candidate{
				id:         c.ID,
				dimension:  c.Embedding.Dim(),
				similarity: Similarity(m.metricFor(c), vec, c.Embedding.Vector),
			}
			if !found || better(cand, best) {
				best, found = cand, true
			}
			if cand.similarity < m.cfg.Threshold && len(vec) == len(c.Embedding.Vector) {
				below = append(below, cand)
			}
		}

		if found {
			scoreSum += best.similarity
		}
		if found && best.similarity >= m.cfg.Threshold {
			est.Matches = append(est.Matches, contractx.DimensionMatch{
				Dimension:    d.Label,
				CapabilityID: best.id,
				Similarity:   best.similarity,
			})
			continue
		}

		est.Gaps = append(est.Gaps, d.Label)
		for _, cand := range below {
			if prev, ok := belowByCap[cand.id]; !ok || better(cand, prev) {
				belowByCap[cand.id] = cand
			}
		}
	}

	est.Coverage = clamp01(float64(len(est.Matches)) / float64(len(dims)))
	est.BestScore = scoreSum / float64(len(dims))
	est.Alternatives = alternatives(belowByCap)
	est.ByChannel = m.byChannel(est.Coverage, req.Channels)
	est.Status, est.Compatible = m.status(est.BestScore)
	return est, nil
}

// alternatives ranks the below-threshold candidates of the uncovered
// dimensions, one entry per capability at its best score, and keeps the top
// maxAlternatives.
func alternatives(below map[string]candidate) []string {
	list := make([]candidate, 0, len(below))
	for _, c := range below {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return better(list[i], list[j]) })
	if len(list) > maxAlternatives {
		list = list[:maxAlternatives]
	}
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.id)
	}
	return out
}

func (m *Matcher) byChannel(coverage float64, channels []string) map[string]float64 {
	out := make(map[string]float64)
	if len(channels) == 0 {
		for ch, mod := range m.cfg.ChannelModifiers {
			out[ch] = clamp01(coverage * mod)
		}
		return out
	}
	for _, ch := range channels {
		key := strings.ToLower(strings.TrimSpace(ch))
		if key == "" {
			continue
		}
		mod, ok := m.cfg.ChannelModifiers[key]
		if !ok {
			mod = 1.0
		}
		out[key] = clamp01(coverage * mod)
	}
	return out
}

func (m *Matcher) status(score float64) (contractx.ValidationStatus, bool) {
	switch {
	case score >= m.cfg.ValidThreshold:
		return contractx.StatusValid, true
	case score >= m.cfg.Threshold:
		return contractx.StatusPartialMatch, true
	case score >= m.cfg.MinPartial:
		return contractx.StatusPartialMatch, false
	default:
		return contractx.StatusNoMatch, false
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
