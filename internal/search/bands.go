package search

import "github.com/bwads001/claude-conversation-analyzer/internal/config"

// Band labels attached to semantic results.
const (
	BandVerySimilar     = "very_similar"
	BandRelevant        = "relevant"
	BandSomewhatRelated = "somewhat_related"
	BandWeak            = "weak"
)

// Bands maps a distance to a caller-facing label. Labels never filter.
type Bands struct {
	VerySimilar     float64
	Relevant        float64
	SomewhatRelated float64
}

func bandsFromConfig(c config.BandsConfig) Bands {
	return Bands{VerySimilar: c.VerySimilar, Relevant: c.Relevant, SomewhatRelated: c.SomewhatRelated}
}

// Label returns the band for distance d.
func (b Bands) Label(d float64) string {
	switch {
	case d < b.VerySimilar:
		return BandVerySimilar
	case d < b.Relevant:
		return BandRelevant
	case d < b.SomewhatRelated:
		return BandSomewhatRelated
	}
	return BandWeak
}
