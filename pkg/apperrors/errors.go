package apperrors

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrUnknownFeature          = errors.New("feature is not registered for this energy source")
	ErrNoAggregateTable        = errors.New("aggregate table is not provisioned")
	ErrInvalidAggregation      = errors.New("aggregation function is not supported")
	ErrInsufficientSamples     = errors.New("not enough samples to fit a baseline")
	ErrMissingDriverData       = errors.New("driver feature has no data in the requested range")
	ErrDegenerateFeatures      = errors.New("feature matrix is singular")
	ErrTrainingInProgress      = errors.New("a job is already active for this target")
	ErrInsufficientPartialData = errors.New("not enough data in the current day to analyze")
	ErrNoDataForPeriod         = errors.New("no readings for the requested period")
)
