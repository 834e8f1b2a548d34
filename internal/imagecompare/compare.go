package imagecompare

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/bits"
)

// Method selects the comparison strategy applied to a stored/candidate pair.
type Method string

const (
	// MethodHash compares raw bytes by SHA-256. Exact, sensitive to any
	// re-encoding.
	MethodHash Method = "hash"
	// MethodNormalizedHash re-encodes both images to a canonical JPEG before
	// hashing, so differing containers of the same pixels can still match.
	MethodNormalizedHash Method = "normalized_hash"
	// MethodPerceptual compares 64-bit average hashes by Hamming distance.
	MethodPerceptual Method = "perceptual"
	// MethodContent correlates the full pixel content of both images.
	MethodContent Method = "content"
)

// DefaultMethod is used when a request does not name one.
const DefaultMethod = MethodHash

const (
	// perceptualMaxDistance is the largest Hamming distance still reported
	// as a match.
	perceptualMaxDistance = 5
	// contentThreshold is the minimum Pearson correlation reported as a
	// match.
	contentThreshold = 0.95

	hashBits       = 64
	normalizedSize = 512
	contentSize    = 256
)

var (
	// ErrUnknownMethod reports a comparison method outside the supported set.
	ErrUnknownMethod = errors.New("unknown comparison method")
	// ErrDecode reports image bytes that no registered decoder accepts.
	ErrDecode = errors.New("unable to decode image")
)

// ParseMethod validates a client-supplied method name. The empty string maps
// to DefaultMethod.
func ParseMethod(name string) (Method, error) {
	switch Method(name) {
	case "":
		return DefaultMethod, nil
	case MethodHash, MethodNormalizedHash, MethodPerceptual, MethodContent:
		return Method(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

// Result is the outcome of a single comparison.
type Result struct {
	Method Method
	Match  bool
	// Score is the similarity for scored methods: in [0, 1] for perceptual,
	// the raw correlation in [-1, 1] for content, and 0 for the hash methods
	// which have no score.
	Score float64
	// HammingDistance is set for the perceptual method, -1 otherwise.
	HammingDistance int
	// Note is a short human description of what the method is sensitive to.
	Note string
}

// Comparer evaluates a stored image against newly submitted bytes.
type Comparer interface {
	Compare(ctx context.Context, method Method, stored, candidate []byte) (*Result, error)
}

// Engine is the in-process Comparer implementing all supported methods.
type Engine struct{}

// NewEngine constructs the comparison engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Compare runs the requested method. Methods that decode pixels return
// ErrDecode (wrapped) when either side cannot be decoded.
func (e *Engine) Compare(ctx context.Context, method Method, stored, candidate []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch method {
	case MethodHash:
		return &Result{
			Method:          MethodHash,
			Match:           sha256.Sum256(stored) == sha256.Sum256(candidate),
			HammingDistance: -1,
			Note:            "Exact byte comparison - sensitive to format/compression differences",
		}, nil

	case MethodNormalizedHash:
		normStored, err := normalize(stored)
		if err != nil {
			return nil, fmt.Errorf("stored image: %w", err)
		}
		normCandidate, err := normalize(candidate)
		if err != nil {
			return nil, fmt.Errorf("candidate image: %w", err)
		}
		return &Result{
			Method:          MethodNormalizedHash,
			Match:           sha256.Sum256(normStored) == sha256.Sum256(normCandidate),
			HammingDistance: -1,
			Note:            "Normalized comparison - handles JPG/JPEG format differences",
		}, nil

	case MethodPerceptual:
		hashStored, err := averageHash(stored)
		if err != nil {
			return nil, fmt.Errorf("stored image: %w", err)
		}
		hashCandidate, err := averageHash(candidate)
		if err != nil {
			return nil, fmt.Errorf("candidate image: %w", err)
		}
		distance := bits.OnesCount64(hashStored ^ hashCandidate)
		return &Result{
			Method:          MethodPerceptual,
			Match:           distance <= perceptualMaxDistance,
			Score:           1 - float64(distance)/hashBits,
			HammingDistance: distance,
			Note:            "Perceptual hash - best for same image with different formats/compression",
		}, nil

	case MethodContent:
		pixelsStored, err := flattenPixels(stored)
		if err != nil {
			return nil, fmt.Errorf("stored image: %w", err)
		}
		pixelsCandidate, err := flattenPixels(candidate)
		if err != nil {
			return nil, fmt.Errorf("candidate image: %w", err)
		}
		correlation := pearson(pixelsStored, pixelsCandidate)
		return &Result{
			Method:          MethodContent,
			Match:           correlation >= contentThreshold,
			Score:           correlation,
			HammingDistance: -1,
			Note:            "Content similarity - handles minor visual differences",
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}
