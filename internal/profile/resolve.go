package profile

import "github.com/matheus3301/remotememo/internal/config"

const DefaultName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. global config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	g, err := config.LoadGlobal(GlobalConfigPath())
	if err == nil && g.DefaultProfile != "" {
		return g.DefaultProfile
	}
	return DefaultName
}

// LoadConfig reads the profile's config.toml, falling back to defaults when
// the file does not exist yet.
func LoadConfig(name string) (*config.Config, error) {
	cfg, err := config.Load(ConfigPath(name))
	if err != nil {
		if isNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}
