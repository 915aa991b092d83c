// Package validate implements deferred validation of parsed data: data
// collected from multiple sources can be wrapped and validated later,
// once the driver is ready to persist it, rather than at yield time. A
// Deferred carries an explicit validator function supplied by the
// scraper author rather than a reflection-driven schema.
package validate

import (
	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
)

// ValidatorFunc checks raw field data and returns either the validated
// value or a list of field-level error maps describing why it failed.
type ValidatorFunc func(raw map[string]any) (validated any, errs []map[string]any, ok bool)

// Deferred holds unvalidated data plus the function that will validate it
// once Confirm is called.
type Deferred struct {
	ModelName  string
	RequestURL string
	Raw        map[string]any
	Validator  ValidatorFunc
}

// New builds a Deferred wrapping raw data for later validation.
func New(modelName, requestURL string, raw map[string]any, validator ValidatorFunc) *Deferred {
	return &Deferred{ModelName: modelName, RequestURL: requestURL, Raw: raw, Validator: validator}
}

// Confirm runs the validator and returns the validated value, or a
// scrapeerr.Error of Kind Validation describing the failure.
func (d *Deferred) Confirm() (any, error) {
	validated, errs, ok := d.Validator(d.Raw)
	if ok {
		return validated, nil
	}
	return nil, scrapeerr.NewValidation(d.RequestURL, d.ModelName, errs, d.Raw)
}

// RawData returns a shallow copy of the unvalidated data, matching the
// original's raw_data property.
func (d *Deferred) RawData() map[string]any {
	out := make(map[string]any, len(d.Raw))
	for k, v := range d.Raw {
		out[k] = v
	}
	return out
}
