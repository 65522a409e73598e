package audience

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/Masterminds/semver/v3"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

const (
	ContentType = "application/vnd.ucp.embedding+json; v=1"

	MinDimension     = 256
	MaxDimension     = 1024
	DefaultDimension = 512
)

// QueryEmbedding derives a deterministic unit vector for one requirement
// dimension. It stands in for a trained model when the buyer supplies no
// embedding; the same label and size always give the same vector.
func QueryEmbedding(label string, dimension int) []float64 {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(label))))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float64, dimension)
	var norm float64
	for i := range vec {
		vec[i] = rng.NormFloat64()
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// ValidateEmbedding checks the exchange format constraints.
func ValidateEmbedding(e contractx.AudienceEmbedding) error {
	n := len(e.Vector)
	if n < MinDimension || n > MaxDimension {
		return fmt.Errorf("%w: embedding dimension %d outside [%d,%d]", contractx.ErrValidation, n, MinDimension, MaxDimension)
	}
	if e.Dimension != 0 && e.Dimension != n {
		return fmt.Errorf("%w: declared dimension %d does not match vector length %d", contractx.ErrValidation, e.Dimension, n)
	}
	if e.Model.Metric != "" && !e.Model.Metric.Valid() {
		return fmt.Errorf("%w: unknown similarity metric %q", contractx.ErrValidation, e.Model.Metric)
	}
	return nil
}

// CompatibleModel reports whether a seller embedding model can be compared
// with the buyer's: same model id and same semantic major version.
func CompatibleModel(buyer, seller contractx.ModelDescriptor) (bool, error) {
	if buyer.ID != "" && seller.ID != "" && buyer.ID != seller.ID {
		return false, nil
	}
	if strings.TrimSpace(buyer.Version) == "" || strings.TrimSpace(seller.Version) == "" {
		return true, nil
	}
	bv, err := semver.NewVersion(buyer.Version)
	if err != nil {
		return false, fmt.Errorf("%w: buyer model version %q: %v", contractx.ErrValidation, buyer.Version, err)
	}
	expr := fmt.Sprintf("^%d.0.0", bv.Major())
	if bv.Major() == 0 {
		expr = fmt.Sprintf("^0.%d.0", bv.Minor())
	}
	constraint, err := semver.NewConstraint(expr)
	if err != nil {
		return false, fmt.Errorf("build version constraint: %w", err)
	}
	sv, err := semver.NewVersion(seller.Version)
	if err != nil {
		return false, fmt.Errorf("%w: seller model version %q: %v", contractx.ErrValidation, seller.Version, err)
	}
	return constraint.Check(sv), nil
}
