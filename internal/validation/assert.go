// Package validation holds constructor guards for mandatory dependencies.
package validation

import "fmt"

// MustNotNil panics with "<owner>: <name> cannot be nil" when ptr is nil.
// It is for wiring mistakes caught at startup, never for runtime failures.
func MustNotNil[T any](ptr *T, owner, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("%s: %s cannot be nil", owner, name))
	}
}
