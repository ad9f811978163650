package classify

import (
	"fmt"

	"github.com/abhisek/tierkit/internal/band"
)

// BandTier pairs a tier with the upper (inclusive) bound of its score band.
type BandTier struct {
	Tier  Tier
	Upper float64
}

// BandClassifier maps the aggregate score onto ordered, gapless bands.
// A score equal to a bound belongs to the lower band.
type BandClassifier struct {
	table band.Table
	tiers map[string]Tier
	order []Tier
}

// NewBandClassifier validates the bands and builds a classifier.
func NewBandClassifier(bands []BandTier) (*BandClassifier, error) {
	raw := make([]band.Band, len(bands))
	tiers := make(map[string]Tier, len(bands))
	order := make([]Tier, 0, len(bands))
	for i, b := range bands {
		if b.Tier.ID == "" {
			return nil, fmt.Errorf("band %d: tier id is required", i)
		}
		if _, dup := tiers[b.Tier.ID]; dup {
			return nil, fmt.Errorf("band %d: duplicate tier %q", i, b.Tier.ID)
		}
		raw[i] = band.Band{Label: b.Tier.ID, Upper: b.Upper}
		tiers[b.Tier.ID] = b.Tier
		order = append(order, b.Tier)
	}

	table, err := band.New(raw)
	if err != nil {
		return nil, err
	}
	return &BandClassifier{table: table, tiers: tiers, order: order}, nil
}

func (c *BandClassifier) Classify(in *Input) Decision {
	b := c.table.Lookup(in.Score)
	idx := 0
	for i, t := range c.order {
		if t.ID == b.Label {
			idx = i
			break
		}
	}
	return Decision{Tier: c.tiers[b.Label], MatchedBy: "band " + c.table.Describe(idx)}
}

func (c *BandClassifier) Tiers() []Tier {
	out := make([]Tier, len(c.order))
	copy(out, c.order)
	return out
}

// Table exposes the underlying band table.
func (c *BandClassifier) Table() band.Table { return c.table }
