package avatar

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig matches every *ConfigError
	ErrConfig = errors.New("avatar configuration error")
	// ErrConnection matches every *ConnectionError
	ErrConnection = errors.New("avatar connection error")
)

// ConfigError reports a required setting that was neither passed explicitly
// nor found in the environment
type ConfigError struct {
	Field  string
	EnvVar string
}

func (e *ConfigError) Error() string {
	if e.EnvVar == "" {
		return fmt.Sprintf("%s must be provided", e.Field)
	}
	return fmt.Sprintf("%s must be provided or %s environment variable must be set", e.Field, e.EnvVar)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// ConnectionError reports a failure to bring up the avatar connection
type ConnectionError struct {
	Op  string // "connect", "init" or "start"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to %s avatar session: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
