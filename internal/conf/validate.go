package conf

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateSettings checks the loaded configuration for inconsistencies that
// would make the pipeline misbehave at runtime.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if err := validateDetectionSettings(&settings.Detection); err != nil {
		errs = append(errs, err)
	}
	if err := validateAlertSettings(&settings.Alerts); err != nil {
		errs = append(errs, err)
	}
	if err := validateNotifySettings(&settings.Notify); err != nil {
		errs = append(errs, err)
	}
	if settings.Retention.Enabled && settings.Retention.Days <= 0 {
		errs = append(errs, fmt.Errorf("retention.days must be positive when retention is enabled"))
	}

	return errors.Join(errs...)
}

func validateDetectionSettings(d *DetectionSettings) error {
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return fmt.Errorf("detection.confidencethreshold must be in [0, 1], got %v", d.ConfidenceThreshold)
	}
	if d.NMSThreshold < 0 || d.NMSThreshold > 1 {
		return fmt.Errorf("detection.nmsthreshold must be in [0, 1], got %v", d.NMSThreshold)
	}
	return nil
}

func validateAlertSettings(a *AlertSettings) error {
	if a.Cooldown < 0 {
		return fmt.Errorf("alerts.cooldown must not be negative")
	}
	switch a.Scope {
	case ScopeSpecies, ScopeSpeciesSource, ScopeGlobal:
		return nil
	default:
		return fmt.Errorf("alerts.scope must be one of %s, %s or %s, got %q",
			ScopeSpecies, ScopeSpeciesSource, ScopeGlobal, a.Scope)
	}
}

func validateNotifySettings(n *NotifySettings) error {
	if !n.Enabled {
		return nil
	}

	var errs []error
	seen := make(map[string]bool, len(n.Channels))

	for i := range n.Channels {
		c := &n.Channels[i]
		ChannelDefaults(c)

		if c.Name == "" {
			errs = append(errs, fmt.Errorf("notify.channels[%d]: name is required", i))
			continue
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("notify.channels: duplicate channel name %q", c.Name))
		}
		seen[c.Name] = true

		switch strings.ToLower(c.Type) {
		case "shoutrrr":
			if c.Enabled && len(c.URLs) == 0 {
				errs = append(errs, fmt.Errorf("channel %q: at least one shoutrrr URL is required", c.Name))
			}
		case "webhook":
			if c.Enabled && c.Endpoint == "" {
				errs = append(errs, fmt.Errorf("channel %q: webhook endpoint is required", c.Name))
			}
		case "mqtt":
			if c.Enabled && (c.Broker == "" || c.Topic == "") {
				errs = append(errs, fmt.Errorf("channel %q: mqtt broker and topic are required", c.Name))
			}
		case "script":
			if c.Enabled && strings.TrimSpace(c.Command) == "" {
				errs = append(errs, fmt.Errorf("channel %q: script command is required", c.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("channel %q: unknown type %q", c.Name, c.Type))
		}

		if c.MonthlyQuota < 0 {
			errs = append(errs, fmt.Errorf("channel %q: monthlyquota must not be negative", c.Name))
		}
	}

	return errors.Join(errs...)
}
