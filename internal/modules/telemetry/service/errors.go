package service

import "errors"

var (
	// ErrNoSensors means the box metadata had no usable sensors entry.
	// Fatal: ingestion cannot proceed without a registry.
	ErrNoSensors = errors.New("box metadata contains no sensors")

	errMissingTimestamp = errors.New("data point has no createdAt")
	errMissingValue     = errors.New("data point has no value field")
)
