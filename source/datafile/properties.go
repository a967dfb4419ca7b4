package datafile

import (
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
)

// Property names
const (
	PropPath          = "path"
	PropLabelsPath    = "labels-path"
	PropPollBase      = "poll-base"
	PropPollInterval  = "poll-interval"
	PropBackfillBytes = "backfill-bytes"
)

// ReadProperties implements access.Source. A connected source whose file
// settings change reconnects.
func (s *Source) ReadProperties(p *access.Properties) error {
	path := p.String(PropPath, s.path)
	if path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "datafile.Source", "ReadProperties", PropPath+" check")
	}
	labels := p.String(PropLabelsPath, "")
	base, err := p.Time(PropPollBase, time.Time{})
	if err != nil {
		return err
	}
	interval, err := p.Millis(PropPollInterval, MinPollInterval)
	if err != nil {
		return err
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	backfill, err := p.Int64(PropBackfillBytes, UnboundedBackfill)
	if err != nil {
		return err
	}
	if backfill < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "datafile.Source", "ReadProperties", PropBackfillBytes+" check")
	}

	changed := path != s.path || labels != s.labelsPath || backfill != s.backfill
	s.path = path
	s.labelsPath = labels
	s.backfill = backfill
	scheduleChanged := !base.Equal(s.pollBase) || interval != s.pollInterval
	s.pollBase = base
	s.pollInterval = interval

	if changed && s.engine != nil {
		s.disconnect(access.DisconnectPropertiesChanged, nil)
		if s.IsStarted() {
			s.ScheduleRetry(s)
			s.Connect()
		}
		return nil
	}
	if scheduleChanged {
		s.armPoll()
	}
	return nil
}

// WriteProperties implements access.Source
func (s *Source) WriteProperties(p *access.Properties) {
	p.Set(PropPath, s.path)
	if s.labelsPath != "" {
		p.Set(PropLabelsPath, s.labelsPath)
	}
	if !s.pollBase.IsZero() {
		p.SetTime(PropPollBase, s.pollBase)
	}
	p.SetMillis(PropPollInterval, s.pollInterval)
	p.SetInt64(PropBackfillBytes, s.backfill)
}
