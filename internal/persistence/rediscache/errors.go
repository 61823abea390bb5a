package rediscache

import "errors"

// ErrInvalidConfig is returned when Config.Validate rejects the configuration.
var ErrInvalidConfig = errors.New("invalid redis cache configuration")

// ErrConnectionFailed is returned when the initial ping to Redis fails.
var ErrConnectionFailed = errors.New("redis cache connection failed")
