// Package plugins contains the built-in bot commands. Commands are installed
// as a static mapping at startup; re-installing swaps the whole set.
package plugins

import (
	"github.com/darkwinzo/queen-mini-go/internal/services"
)

// All returns every built-in command keyed by name
func All() map[string]services.Handler {
	return map[string]services.Handler{
		"ping":  services.HandlerFunc(Ping),
		"alive": services.HandlerFunc(Alive),
		"menu":  services.HandlerFunc(Menu),
	}
}
