package schema

import "strings"

// NormalizeServiceConfig fills defaults and validates the service config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if strings.TrimSpace(cfg.Preamble) == "" {
		cfg.Preamble = DefaultPreamble
	}
	if cfg.HistoryMax <= 0 {
		cfg.HistoryMax = DefaultHistoryMax
	}
	if cfg.HandlerWarn <= 0 {
		cfg.HandlerWarn = DefaultHandlerWarn
	}
	return cfg, nil
}

// ValidateOwnerID ensures an owner id matches [a-z0-9._-] with no normalization.
func ValidateOwnerID(owner OwnerID) error {
	return validateIdent(string(owner))
}

// ValidateTriggerName ensures a trigger name matches [a-z0-9._-].
func ValidateTriggerName(name TriggerName) error {
	return validateIdent(string(name))
}

func validateIdent(raw string) error {
	if raw == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(raw) != raw {
		return ErrEmptyName
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrEmptyName
	}
	return nil
}
