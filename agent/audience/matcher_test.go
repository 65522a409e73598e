package audience

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

const testDim = 256

func basis(i int) []float64 {
	v := make([]float64, testDim)
	v[i] = 1
	return v
}

// mix returns a*e_i + sqrt(1-a^2)*e_j, a unit vector whose cosine with e_i is a.
func mix(a float64, i, j int) []float64 {
	v := make([]float64, testDim)
	v[i] = a
	v[j] = math.Sqrt(1 - a*a)
	return v
}

func capability(id string, vec []float64) contractx.AudienceCapability {
	return contractx.AudienceCapability{
		ID:         id,
		SignalType: contractx.SignalContextual,
		Embedding: contractx.AudienceEmbedding{
			Vector:    vec,
			Dimension: len(vec),
			Model:     contractx.ModelDescriptor{ID: "ucp-embedding-v1", Version: "1.0.0", Metric: contractx.MetricCosine},
		},
	}
}

func newMatcher(t *testing.T, cfg Config) *Matcher {
	t.Helper()
	m, err := NewMatcher(cfg)
	require.NoError(t, err)
	return m
}

func TestMatchHalfCoverage(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Interests: []string{"tech", "business"},
		Embeddings: map[string][]float64{
			"tech":     basis(0),
			"business": basis(1),
		},
	}
	caps := []contractx.AudienceCapability{
		capability("cap_a", mix(0.6, 0, 2)),
		capability("cap_b", mix(0.3, 1, 3)),
	}

	est, err := newMatcher(t, Config{}).Match(req, caps)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, est.Coverage, 1e-9)
	require.Len(t, est.Matches, 1)
	assert.Equal(t, "tech", est.Matches[0].Dimension)
	assert.Equal(t, "cap_a", est.Matches[0].CapabilityID)
	assert.InDelta(t, 0.6, est.Matches[0].Similarity, 1e-9)
	assert.Equal(t, []string{"business"}, est.Gaps)
	assert.Equal(t, []string{"cap_b", "cap_a"}, est.Alternatives)
}

func TestMatchAlternativesIncludeCoveringCapability(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Interests: []string{"tech", "business"},
		Embeddings: map[string][]float64{
			"tech":     basis(0),
			"business": basis(1),
		},
	}
	// cap_a covers tech and is still the closest miss for business.
	caps := []contractx.AudienceCapability{
		capability("cap_a", mix(0.9, 0, 1)),
		capability("cap_b", mix(0.2, 1, 3)),
	}

	est, err := newMatcher(t, Config{}).Match(req, caps)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, est.Coverage, 1e-9)
	assert.Equal(t, []string{"business"}, est.Gaps)
	assert.Equal(t, []string{"cap_a", "cap_b"}, est.Alternatives)
}

func TestMatchAlternativesKeepNegativeSimilarity(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Interests:  []string{"auto"},
		Embeddings: map[string][]float64{"auto": basis(0)},
	}
	est, err := newMatcher(t, Config{}).Match(req, []contractx.AudienceCapability{
		capability("cap_far", mix(-0.2, 0, 1)),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"auto"}, est.Gaps)
	assert.Equal(t, []string{"cap_far"}, est.Alternatives)
}

func TestMatchAlternativesSkipIncomparableDimension(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Interests:  []string{"auto"},
		Embeddings: map[string][]float64{"auto": basis(0)},
	}
	est, err := newMatcher(t, Config{}).Match(req, []contractx.AudienceCapability{
		capability("cap_512", make([]float64, 512)),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"auto"}, est.Gaps)
	assert.Empty(t, est.Alternatives)
}

func TestMatchEmptyCapabilities(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Demographics: map[string]string{"age": "25-34"},
		Interests:    []string{"auto"},
	}
	est, err := newMatcher(t, Config{}).Match(req, nil)
	require.NoError(t, err)

	assert.Zero(t, est.Coverage)
	assert.Equal(t, []string{"age=25-34", "auto"}, est.Gaps)
	assert.Empty(t, est.Alternatives)
	assert.Equal(t, contractx.StatusNoMatch, est.Status)
}

func TestMatchConsentGate(t *testing.T) {
	t.Parallel()

	m := newMatcher(t, Config{ConsentRequired: true})
	req := contractx.AudienceRequirement{Interests: []string{"tech"}}

	// An empty requirement fails validation only if the gate runs later.
	_, err := m.Match(contractx.AudienceRequirement{}, nil)
	assert.ErrorIs(t, err, contractx.ErrConsentRequired)

	_, err = m.Match(req, []contractx.AudienceCapability{capability("cap", basis(0))})
	assert.ErrorIs(t, err, contractx.ErrConsentRequired)

	req.ConsentToken = "tcf:abc"
	_, err = m.Match(req, []contractx.AudienceCapability{capability("cap", basis(0))})
	assert.NoError(t, err)
}

func TestMatchTieBreakByIdentifier(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Interests:  []string{"sports"},
		Embeddings: map[string][]float64{"sports": basis(0)},
	}
	caps := []contractx.AudienceCapability{
		capability("cap_z", mix(0.8, 0, 1)),
		capability("cap_m", mix(0.8, 0, 2)),
	}
	est, err := newMatcher(t, Config{}).Match(req, caps)
	require.NoError(t, err)
	require.Len(t, est.Matches, 1)
	assert.Equal(t, "cap_m", est.Matches[0].CapabilityID)
}

func TestBetterPrefersLargerDimension(t *testing.T) {
	t.Parallel()

	small := candidate{id: "a", dimension: 256, similarity: 0.7}
	large := candidate{id: "b", dimension: 1024, similarity: 0.7}
	assert.True(t, better(large, small))
	assert.False(t, better(small, large))
}

func TestMatchAlternativesCappedAtThree(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Interests:  []string{"travel"},
		Embeddings: map[string][]float64{"travel": basis(0)},
	}
	caps := []contractx.AudienceCapability{
		capability("c1", mix(0.45, 0, 1)),
		capability("c2", mix(0.40, 0, 2)),
		capability("c3", mix(0.35, 0, 3)),
		capability("c4", mix(0.30, 0, 4)),
	}
	est, err := newMatcher(t, Config{}).Match(req, caps)
	require.NoError(t, err)
	assert.Zero(t, est.Coverage)
	assert.Equal(t, []string{"c1", "c2", "c3"}, est.Alternatives)
}

func TestMatchChannelModifiers(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{
		Interests:  []string{"gaming"},
		Channels:   []string{"CTV", "display"},
		Embeddings: map[string][]float64{"gaming": basis(0)},
	}
	est, err := newMatcher(t, Config{}).Match(req, []contractx.AudienceCapability{capability("cap", basis(0))})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, est.Coverage, 1e-9)
	assert.InDelta(t, 0.60, est.ByChannel["ctv"], 1e-9)
	assert.InDelta(t, 1.0, est.ByChannel["display"], 1e-9)
	assert.Equal(t, contractx.StatusValid, est.Status)
	assert.True(t, est.Compatible)
}

func TestMatchSynthesizedQueryIsDeterministic(t *testing.T) {
	t.Parallel()

	req := contractx.AudienceRequirement{Interests: []string{"finance"}}
	caps := []contractx.AudienceCapability{capability("cap_fin", QueryEmbedding("finance", testDim))}

	est, err := newMatcher(t, Config{}).Match(req, caps)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, est.Coverage, 1e-9)
	assert.InDelta(t, 1.0, est.Matches[0].Similarity, 1e-9)
}

func TestMatchRejectsEmptyRequirement(t *testing.T) {
	t.Parallel()

	_, err := newMatcher(t, Config{}).Match(contractx.AudienceRequirement{}, nil)
	assert.ErrorIs(t, err, contractx.ErrValidation)
}

// Property: coverage always lies in [0,1] regardless of vectors and metric.
func TestMatchCoverageBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	metrics := []contractx.SimilarityMetric{contractx.MetricCosine, contractx.MetricDot, contractx.MetricL2}

	properties.Property("coverage in [0,1]", prop.ForAll(
		func(weights []float64, metric int, threshold float64) bool {
			m, err := NewMatcher(Config{Metric: metrics[metric], Threshold: threshold})
			if err != nil {
				return false
			}
			req := contractx.AudienceRequirement{Interests: []string{"a", "b", "c"}}
			caps := make([]contractx.AudienceCapability, 0, len(weights))
			for i, w := range weights {
				caps = append(caps, capability(string(rune('a'+i%26)), mix(math.Mod(math.Abs(w), 1), 0, 1+i%200)))
			}
			est, err := m.Match(req, caps)
			if err != nil {
				return false
			}
			return est.Coverage >= 0 && est.Coverage <= 1 && len(est.Gaps)+len(est.Matches) == 3
		},
		gen.SliceOfN(8, gen.Float64Range(-1, 1)),
		gen.IntRange(0, 2),
		gen.Float64Range(0.05, 0.95),
	))

	properties.TestingRun(t)
}
