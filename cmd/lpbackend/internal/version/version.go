// Package version carries the server's identity constants.
package version

import "fmt"

const (
	Name    = "lpbackend"
	Version = "0.4.0"
)

// Full returns the human-readable banner line logged at startup.
func Full() string {
	return fmt.Sprintf("LPBackend %s", Version)
}

// Identifier returns the token used in the HTTP Server header.
func Identifier() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}
