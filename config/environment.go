package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"

	// overrideDir holds per-environment override files named apte.<env>.yaml.
	overrideDir = "config"
)

var environmentAliases = map[string]string{
	"dev":   environmentDevelopment,
	"prod":  environmentProduction,
	"stage": environmentStaging,
	"stag":  environmentStaging,
}

// normalizeEnvironment lowercases raw and resolves aliases. Empty means
// development.
func normalizeEnvironment(raw string) string {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// environmentOverridePath returns the override file for env when one exists
// under dir, or "" otherwise.
func environmentOverridePath(dir, env string) string {
	path := filepath.Join(dir, "apte."+env+".yaml")
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
