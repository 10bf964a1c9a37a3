// Package utils provides small helpers shared across SpacePanda's
// packages: error wrapping and environment-variable lookup with
// fallbacks.
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
