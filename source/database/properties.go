package database

import (
	"strings"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
)

// Property names
const (
	PropDriver       = "driver"
	PropDSN          = "dsn"
	PropPollInterval = "poll-interval"
	PropWorkers      = "workers"
)

// ReadProperties implements access.Source. A connected source whose
// database settings change reconnects.
func (s *Source) ReadProperties(p *access.Properties) error {
	driver := strings.ToLower(p.String(PropDriver, s.driver))
	if _, err := DialectFor(driver); err != nil {
		return err
	}
	dsn := p.String(PropDSN, s.dsn)
	if dsn == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "database.Source", "ReadProperties", PropDSN+" check")
	}
	interval, err := p.Millis(PropPollInterval, s.pollInterval)
	if err != nil {
		return err
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	workers, err := p.Int64(PropWorkers, int64(s.workers))
	if err != nil {
		return err
	}
	if workers < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "database.Source", "ReadProperties", PropWorkers+" check")
	}

	changed := driver != s.driver || dsn != s.dsn || int(workers) != s.workers
	s.driver = driver
	s.dsn = dsn
	s.workers = int(workers)
	intervalChanged := interval != s.pollInterval
	s.pollInterval = interval

	if changed {
		if s.layouts != nil {
			s.layouts.Clear()
		}
		if s.sess != nil {
			s.disconnect(access.DisconnectPropertiesChanged, nil)
			if s.IsStarted() {
				s.ScheduleRetry(s)
				s.Connect()
			}
		}
		return nil
	}
	if intervalChanged {
		s.armPoll()
	}
	return nil
}

// WriteProperties implements access.Source
func (s *Source) WriteProperties(p *access.Properties) {
	p.Set(PropDriver, s.driver)
	p.Set(PropDSN, s.dsn)
	p.SetMillis(PropPollInterval, s.pollInterval)
	p.SetInt64(PropWorkers, int64(s.workers))
}
