package featureflags

import (
	"os"
	"strings"
)

// Known flags.
const (
	// DisableTenantCreation stops provisioning from creating a tenant per new identity.
	DisableTenantCreation = "disable_tenant_creation"
	// PublicPixKeys enables the unauthenticated payment-key sharing page.
	PublicPixKeys = "public_pix_keys"
)

// Source answers whether a named flag is on.
type Source interface {
	Enabled(name string) bool
}

// Env reads flags from the environment as FLAG_<NAME>=true/1/yes/on (case-insensitive).
type Env struct{}

func (Env) Enabled(name string) bool { return Enabled(name) }

// Static is a fixed flag set, used in tests and for config-file overrides.
type Static map[string]bool

func (s Static) Enabled(name string) bool { return s[name] }

// Enabled returns true if a flag is enabled via environment variable.
func Enabled(name string) bool {
	v := os.Getenv("FLAG_" + strings.ToUpper(name))
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
