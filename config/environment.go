package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"dev":  environmentDevelopment,
	"prod": environmentProduction,
	"stag": environmentStaging,
}

// AppEnvironment reads the application environment from APP_ENV,
// normalises common aliases and defaults to development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether the given environment should behave
// like a production deployment. Production-like environments are stricter
// about configuration errors such as venues with no reconnect policy.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}

// ResolveConfigPath picks an environment specific configuration file when
// one exists next to the default, e.g. config.production.yml for
// APP_ENV=production. Falls back to the provided path.
func ResolveConfigPath(path string) string {
	env := AppEnvironment()
	if env == environmentDevelopment {
		return path
	}
	if i := strings.LastIndex(path, ".yml"); i > 0 {
		candidate := path[:i] + "." + env + ".yml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}
