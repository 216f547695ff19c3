package datasource

import (
	"context"

	"github.com/wonny/autocast/internal/contracts"
)

// Cited appends citation records for every successful fetch.
// Series kinds cite their latest point; headlines and fundamentals cite each item.
type Cited struct {
	next     contracts.DataSource
	recorder contracts.CitationRecorder
}

// NewCited creates the citation decorator
func NewCited(next contracts.DataSource, recorder contracts.CitationRecorder) *Cited {
	return &Cited{next: next, recorder: recorder}
}

// Name implements contracts.DataSource
func (c *Cited) Name() string {
	return c.next.Name()
}

// Fetch implements contracts.DataSource
func (c *Cited) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	obs, err := c.next.Fetch(ctx, req)
	if err != nil || len(obs) == 0 {
		return obs, err
	}

	switch req.Kind {
	case contracts.KindPriceHistory, contracts.KindIndexLevel:
		latest := obs[0]
		for _, o := range obs[1:] {
			if o.AsOf.After(latest.AsOf) {
				latest = o
			}
		}
		c.recorder.RecordCitations(contracts.NewCitation(latest))
	default:
		citations := make([]contracts.Citation, len(obs))
		for i, o := range obs {
			citations[i] = contracts.NewCitation(o)
		}
		c.recorder.RecordCitations(citations...)
	}
	return obs, nil
}
