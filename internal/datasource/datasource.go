// Package datasource implements contracts.DataSource providers and decorators.
//
// Providers never panic or abort a cycle: every failure comes back as *Failure,
// which unwraps to contracts.ErrTransientFetch so callers can degrade the
// affected factor to neutral.
package datasource

import (
	"fmt"

	"github.com/wonny/autocast/internal/contracts"
)

// Source identifiers (reliability table keys)
const (
	SourceEODHD             = "EODHD_API"
	SourceEODHDNews         = "EODHD_News"
	SourceEODHDFundamentals = "EODHD_Fundamentals"
)

// ReliabilityFunc returns the static reliability score of a source
type ReliabilityFunc func(sourceID string) float64

// Failure 조회 실패 (재시도 소진, 타임아웃, 비정상 응답)
type Failure struct {
	Source     string
	Kind       contracts.ObservationKind
	Instrument string
	Attempts   int
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s fetch %s/%s failed after %d attempt(s): %v",
		f.Source, f.Kind, f.Instrument, f.Attempts, f.Err)
}

// Unwrap exposes both the taxonomy sentinel and the cause
func (f *Failure) Unwrap() []error {
	return []error{contracts.ErrTransientFetch, f.Err}
}

func newFailure(source string, req contracts.FetchRequest, attempts int, err error) *Failure {
	return &Failure{
		Source:     source,
		Kind:       req.Kind,
		Instrument: req.Instrument,
		Attempts:   attempts,
		Err:        err,
	}
}
