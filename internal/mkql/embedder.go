package mkql

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Embedder turns text into a fixed-dimension vector. Production
// embedding generation (model choice, batching against a remote API) is
// out of scope here; this interface is the seam the executor's NEAR()
// compilation and the Index's embedding-refresh pass both depend on
// (4.6.5: "own dimension constant, cache, dirty-bit management, and
// batching policy behind this interface").
type Embedder interface {
	Dimension() int
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
}

// MockEmbedder is a deterministic, dependency-free Embedder for tests
// and offline `doctor` runs: it hashes text into a unit vector rather
// than calling a model, so NEAR() queries are exercisable without any
// external embedding provider wired in (4.6.5: "ship a mock for
// testability").
type MockEmbedder struct {
	dim int
}

// NewMockEmbedder constructs a MockEmbedder producing vectors of dim
// dimensions.
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &MockEmbedder{dim: dim}
}

func (m *MockEmbedder) Dimension() int { return m.dim }

// Embed hashes text with SHA-256, expands the digest into m.dim floats
// by repeated re-hashing, and L2-normalises the result so cosine/L2
// distance comparisons behave sensibly in tests.
func (m *MockEmbedder) Embed(text string) ([]float32, error) {
	out := make([]float32, m.dim)
	seed := []byte(text)
	block := sha256.Sum256(seed)
	for i := 0; i < m.dim; i++ {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.LittleEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		out[i] = float32(bits%2000)/1000.0 - 1.0 // in [-1, 1)
	}
	normalize(out)
	return out, nil
}

func (m *MockEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
