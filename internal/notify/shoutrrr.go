package notify

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/rodentwatch/internal/errors"
)

// ShoutrrrProvider sends alerts via nicholas-fedor/shoutrrr service URLs
// (pushover, telegram, smtp and the rest of its catalogue). One sender covers
// all configured URLs.
type ShoutrrrProvider struct {
	name    string
	urls    []string
	sender  *router.ServiceRouter
	timeout time.Duration
}

func NewShoutrrrProvider(name string, urls []string, timeout time.Duration) *ShoutrrrProvider {
	sp := &ShoutrrrProvider{
		name:    strings.TrimSpace(name),
		urls:    slices.Clone(urls),
		timeout: timeout,
	}
	if sp.name == "" {
		sp.name = "shoutrrr"
	}
	return sp
}

func (s *ShoutrrrProvider) Name() string { return s.name }

func (s *ShoutrrrProvider) ValidateConfig() error {
	if len(s.urls) == 0 {
		return errors.Newf("channel %s: at least one URL is required", s.name).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	// Build sender to validate URLs
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Context("channel", s.name).
			Build()
	}
	s.sender = sender
	if s.timeout > 0 {
		s.sender.Timeout = s.timeout
	}
	s.sender.SetLogger(log.New(io.Discard, "", 0))
	return nil
}

func (s *ShoutrrrProvider) Send(ctx context.Context, alert *Alert) error {
	if s.sender == nil {
		return errors.Newf("shoutrrr sender not initialized").
			Component("notify").
			Category(errors.CategoryState).
			Build()
	}
	_ = ctx // router handles its own timeouts

	params := stypes.Params{}
	params.SetTitle(Title(alert))

	errs := s.sender.Send(Body(alert), &params)
	for _, e := range errs {
		if e != nil {
			// Treat transport errors as transient; the service URL itself
			// was already validated at startup.
			return errors.New(e).
				Component("notify").
				Category(errors.CategoryDelivery).
				Context("channel", s.name).
				Retryable(true).
				Build()
		}
	}
	return nil
}
