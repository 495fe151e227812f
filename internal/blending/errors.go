package blending

import "errors"

var (
	ErrInvalidMethod     = errors.New("invalid blending method")
	ErrInvalidPercentile = errors.New("invalid percentile")
	ErrMetricRequired    = errors.New("metric is required")
	ErrEmptyGroup        = errors.New("cannot blend an empty group")
)
