package idp

import (
	"os"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Configuration setting names. They match the environment variables the
// original deployment used so existing env files keep working.
const (
	SettingPort           = "PORT"
	SettingAuthSecret     = "AUTH_SECRET"
	SettingBaseURL        = "BASE_URL"
	SettingDatabaseURL    = "DATABASE_URL"
	SettingTrustedOrigins = "TRUSTED_ORIGINS"
	SettingMailAPIKey     = "RESEND_API_KEY"
	SettingFromEmail      = "FROM_EMAIL"
	SettingFrontendURL    = "FE_URL"
	SettingDeployMode     = "NODE_ENV"
)

const deployModeTest = "test"

// requiredSettings is the fixed set a deployment cannot start without.
var requiredSettings = []string{
	SettingPort,
	SettingAuthSecret,
	SettingBaseURL,
	SettingDatabaseURL,
	SettingMailAPIKey,
	SettingFromEmail,
	SettingFrontendURL,
}

// LookupFunc resolves a named setting. os.LookupEnv satisfies it; tests
// inject a map-backed lookup.
type LookupFunc func(name string) (string, bool)

// DeploymentConfig is resolved once at startup and never mutated. TestMode is
// the single flag the rest of the system branches on, and only at
// construction time.
type DeploymentConfig struct {
	Port           int
	AuthSecret     string
	BaseURL        string
	DatabaseURL    string
	TrustedOrigins []string
	MailAPIKey     string
	FromEmail      string
	FrontendURL    string
	TestMode       bool
}

// ResolveConfig validates every required setting and reports all missing
// names in a single error so operators fix the deployment in one pass.
// Secret values never appear in the error or in logs.
func ResolveConfig(lookup LookupFunc) (*DeploymentConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	missing := []string{}
	get := func(name string) string {
		val, ok := lookup(name)
		if !ok || val == "" {
			return ""
		}
		return val
	}

	for _, name := range requiredSettings {
		if get(name) == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return nil, goerrors.New(
			"missing required configuration settings: "+strings.Join(missing, ", "),
			goerrors.CategoryValidation,
		).WithTextCode("CONFIG_MISSING_REQUIRED").WithMetadata(map[string]any{
			"missing": missing,
		})
	}

	port, err := strconv.Atoi(get(SettingPort))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid port setting").
			WithMetadata(map[string]any{"setting": SettingPort})
	}

	cfg := &DeploymentConfig{
		Port:        port,
		AuthSecret:  get(SettingAuthSecret),
		BaseURL:     get(SettingBaseURL),
		DatabaseURL: get(SettingDatabaseURL),
		MailAPIKey:  get(SettingMailAPIKey),
		FromEmail:   get(SettingFromEmail),
		FrontendURL: get(SettingFrontendURL),
		TestMode:    get(SettingDeployMode) == deployModeTest,
	}

	cfg.TrustedOrigins = resolveTrustedOrigins(get(SettingTrustedOrigins), cfg.BaseURL, cfg.FrontendURL)

	return cfg, nil
}

// MissingSettings extracts the consolidated list of missing setting names
// from a ResolveConfig error, or nil when err is not a config error.
func MissingSettings(err error) []string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return nil
	}
	names, ok := richErr.Metadata["missing"].([]string)
	if !ok {
		return nil
	}
	return names
}

// resolveTrustedOrigins splits an explicit comma-separated list, or derives a
// fallback set from the base and frontend URLs, dropping empty entries.
func resolveTrustedOrigins(explicit, baseURL, frontendURL string) []string {
	var candidates []string
	if explicit != "" {
		candidates = strings.Split(explicit, ",")
	} else {
		candidates = []string{baseURL, frontendURL}
	}

	origins := make([]string, 0, len(candidates))
	for _, origin := range candidates {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}

	return origins
}
