package types

import "errors"

var (
	// ErrInvalidPartitionName is returned when a file name does not follow the
	// esp32_data_<YYYY-MM-DD>.json convention
	ErrInvalidPartitionName = errors.New("invalid partition name")
)
