package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// hashProvider returns deterministic pseudo-random vectors derived from the
// text. Vectors of texts sharing words point in similar directions.
type hashProvider struct {
	dims     int
	calls    atomic.Int32
	failFor  int32 // first N calls fail with a retryable error
	failWith error
	poison   string // any batch containing this text fails permanently

	mu      sync.Mutex
	batches [][]string
}

func newHashProvider(dims int) *hashProvider { return &hashProvider{dims: dims} }

func (p *hashProvider) Name() string  { return "fake" }
func (p *hashProvider) Model() string { return "fake-embed" }

func (p *hashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := p.calls.Add(1)
	p.mu.Lock()
	p.batches = append(p.batches, append([]string(nil), texts...))
	p.mu.Unlock()

	if n <= p.failFor {
		if p.failWith != nil {
			return nil, p.failWith
		}
		return nil, &APIError{Provider: "fake", StatusCode: 503, Message: "warming up"}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if p.poison != "" && strings.Contains(t, p.poison) {
			return nil, &APIError{Provider: "fake", StatusCode: 400, Message: "bad input"}
		}
		out[i] = wordVector(t, p.dims)
	}
	return out, nil
}

// wordVector sums a per-word hash vector so that overlapping texts are close.
func wordVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		var sum [32]byte
		for i := 0; i < dims; i++ {
			if i%16 == 0 {
				sum = sha256.Sum256([]byte(w + "#" + strconv.Itoa(i/16)))
			}
			x := binary.LittleEndian.Uint16(sum[(i%16)*2:])
			v[i] += float32(int(x%2001)-1000) / 1000
		}
	}
	return v
}
