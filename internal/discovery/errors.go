package discovery

import "errors"

var (
	// ErrInvalidURL is returned when a service address fails validation.
	ErrInvalidURL = errors.New("discovery: invalid service url")

	// ErrUnsupported is returned by drivers for operations a service type does not support.
	ErrUnsupported = errors.New("discovery: operation not supported by service type")

	// ErrBanned is returned by drivers when a service must not be used anymore.
	ErrBanned = errors.New("discovery: service banned")

	// ErrStopped is returned when the dispatch worker no longer accepts commands.
	ErrStopped = errors.New("discovery: manager stopped")

	// ErrNoData is returned by load when neither the primary nor the backup file exists.
	ErrNoData = errors.New("discovery: no data file")

	// ErrCorrupt is returned when a data file cannot be decoded.
	ErrCorrupt = errors.New("discovery: corrupt data file")
)
