package notify

import (
	"context"
	"os/exec"
	"slices"
	"time"

	"github.com/tphakala/rodentwatch/internal/errors"
)

// ScriptProvider executes a local command for each alert. Alert fields are
// passed in the environment. Exit code conventions: 0 is success, 2 is a
// terminal rejection, anything else is transient.
type ScriptProvider struct {
	name    string
	command string
	args    []string
}

func NewScriptProvider(name, command string, args []string) *ScriptProvider {
	return &ScriptProvider{
		name:    name,
		command: command,
		args:    slices.Clone(args),
	}
}

func (s *ScriptProvider) Name() string { return s.name }

func (s *ScriptProvider) ValidateConfig() error {
	if s.command == "" {
		return errors.Newf("channel %s: script command is required", s.name).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := exec.LookPath(s.command); err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Context("channel", s.name).
			Context("command", s.command).
			Build()
	}
	return nil
}

func (s *ScriptProvider) Send(ctx context.Context, alert *Alert) error {
	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Env = append(cmd.Environ(),
		"ALERT_ID="+alert.ID,
		"ALERT_SPECIES="+alert.Species,
		"ALERT_SOURCE="+alert.SourceID,
		"ALERT_TIME="+alert.Timestamp.Format(time.RFC3339),
		"ALERT_EVIDENCE="+alert.EvidencePath,
		"ALERT_TITLE="+Title(alert),
		"ALERT_MESSAGE="+Body(alert),
	)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
		return errors.Newf("script %s rejected alert (exit code 2)", s.command).
			Component("notify").
			Category(errors.CategoryDelivery).
			Context("channel", s.name).
			Retryable(false).
			Build()
	}

	return errors.New(err).
		Component("notify").
		Category(errors.CategoryDelivery).
		Context("channel", s.name).
		Context("command", s.command).
		Retryable(true).
		Build()
}
