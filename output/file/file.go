// Package file provides a sink writing delivered records to a file
package file

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/health"
	"github.com/c360/lgraccess/pkg/buffer"
	"github.com/c360/lgraccess/record"
)

// Output formats
const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

// Config holds configuration for the file sink
type Config struct {
	Path          string        `json:"path"           yaml:"path"`
	Format        string        `json:"format"         yaml:"format"`
	Append        bool          `json:"append"         yaml:"append"`
	BufferSize    int           `json:"buffer_size"    yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path is required")
	}

	validFormats := map[string]bool{FormatJSONL: true, FormatJSON: true}
	if !validFormats[c.Format] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: jsonl, json")
	}

	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for the file sink
func DefaultConfig() Config {
	return Config{
		Path:          "records.jsonl",
		Format:        FormatJSONL,
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Sink writes each delivered record as one JSON envelope, restricted to the
// values its request selected
type Sink struct {
	name          string
	path          string
	format        string
	append        bool
	bufferSize    int
	flushInterval time.Duration
	logger        *slog.Logger

	// File handling
	file   *os.File
	fileMu sync.Mutex

	// Lines waiting for the flush loop
	pending buffer.Buffer[[]byte]

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Metrics
	recordsWritten int64
	bytesWritten   int64
	errors         int64
	failures       int64
	lastActivity   atomic.Value
}

// New creates a file sink from configuration
func New(config Config, logger *slog.Logger) (*Sink, error) {
	if config.Format == "" {
		config.Format = FormatJSONL
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BufferSize == 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultConfig().FlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		name:          "file-sink",
		path:          config.Path,
		format:        config.Format,
		append:        config.Append,
		bufferSize:    config.BufferSize,
		flushInterval: config.FlushInterval,
		logger:        logger.With("component", "file-sink"),
	}
	// The queue holds several flushes worth of lines; overflow drops the
	// oldest and counts it as a write error.
	pending, err := buffer.NewCircularBuffer(4*config.BufferSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) { atomic.AddInt64(&s.errors, 1) }))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Sink", "New", "create line buffer")
	}
	s.pending = pending
	return s, nil
}

// Path returns the output file path
func (s *Sink) Path() string { return s.path }

// Start opens the file and launches the flush loop. The sink accepts
// records only while started.
func (s *Sink) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Sink", "Start", "check running state")
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapFatal(err, "Sink", "Start", "create output directory")
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if s.append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.path, flags, 0o644)
	if err != nil {
		return errors.WrapFatal(err, "Sink", "Start", "open output file")
	}

	s.fileMu.Lock()
	s.file = f
	s.fileMu.Unlock()

	s.shutdown = make(chan struct{})
	s.wg.Add(1)
	go s.flushLoop()

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()
	access.Track(s)

	s.logger.Info("File sink started",
		"output_file", s.path,
		"format", s.format,
		"append", s.append,
		"buffer_size", s.bufferSize)
	return nil
}

// Stop releases the sink, flushes buffered lines and closes the file
func (s *Sink) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	access.Release(s)
	close(s.shutdown)

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Sink", "Stop", "shutdown")
	}

	s.flush()

	s.fileMu.Lock()
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.logger.Warn("failed to close output file", "error", err, "path", s.path)
		}
		s.file = nil
	}
	s.fileMu.Unlock()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// OnSinkReady implements access.Sink
func (s *Sink) OnSinkReady(_ *access.Manager, r *access.Request, template *record.Record) {
	s.logger.Debug("Request ready", "uri", r.URI(), "values", template.Len())
}

// OnSinkRecords implements access.Sink by queueing one line per request and
// record
func (s *Sink) OnSinkRecords(_ *access.Manager, requests []*access.Request, records []*record.Record) {
	var queued int
	for _, r := range requests {
		for _, rec := range records {
			line, err := s.encode(record.NewEnvelope(r.URI(), rec, r.BeginIndex(), r.EndIndex()))
			if err != nil {
				atomic.AddInt64(&s.errors, 1)
				s.logger.Error("Failed to encode record", "uri", r.URI(), "error", err)
				continue
			}
			_ = s.pending.Write(line)
			queued++
		}
	}
	s.lastActivity.Store(time.Now())

	if s.pending.Size() >= s.bufferSize {
		s.logger.Debug("Buffer full, flushing", "queued", queued)
		s.flush()
	}
}

// OnSinkFailure implements access.Sink
func (s *Sink) OnSinkFailure(_ *access.Manager, r *access.Request, f access.Failure) {
	atomic.AddInt64(&s.failures, 1)
	s.logger.Warn("Request failed", "uri", r.URI(), "failure", f.String())
}

// OnRequestStateChange implements access.Sink
func (s *Sink) OnRequestStateChange(_ *access.Manager, r *access.Request) {
	s.logger.Debug("Request state changed", "uri", r.URI(), "state", r.State().String())
}

func (s *Sink) encode(env record.Envelope) ([]byte, error) {
	if s.format == FormatJSON {
		return json.MarshalIndent(env, "", "  ")
	}
	return json.Marshal(env)
}

// flushLoop periodically flushes the buffer
func (s *Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush writes buffered lines to the file. Holding fileMu across the read
// keeps lines in delivery order.
func (s *Sink) flush() {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	lines := s.pending.ReadBatch(s.pending.Capacity())
	if len(lines) == 0 {
		return
	}

	if s.file == nil {
		atomic.AddInt64(&s.errors, int64(len(lines)))
		s.logger.Error("File handle is nil during flush", "records_lost", len(lines))
		return
	}

	for _, line := range lines {
		n, err := s.file.Write(append(line, '\n'))
		if err != nil {
			atomic.AddInt64(&s.errors, 1)
			s.logger.Error("Failed to write record to file", "error", err)
			continue
		}
		atomic.AddInt64(&s.recordsWritten, 1)
		atomic.AddInt64(&s.bytesWritten, int64(n))
	}
	s.logger.Debug("Flush completed",
		"records", len(lines),
		"total_written", atomic.LoadInt64(&s.recordsWritten),
		"total_errors", atomic.LoadInt64(&s.errors))
}

// Written returns the number of records written to the file
func (s *Sink) Written() int64 {
	return atomic.LoadInt64(&s.recordsWritten)
}

// Health returns the current health status
func (s *Sink) Health() health.Status {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	var status health.Status
	switch {
	case !running:
		status = health.NewUnhealthy(s.name, "not started")
	case atomic.LoadInt64(&s.errors) > 0:
		status = health.NewDegraded(s.name, fmt.Sprintf("%d write errors", atomic.LoadInt64(&s.errors)))
	default:
		status = health.NewHealthy(s.name, "writing "+s.format)
	}
	last, _ := s.lastActivity.Load().(time.Time)
	return status.WithMetrics(&health.Metrics{
		FailureCount: int(atomic.LoadInt64(&s.failures)),
		LastActivity: last,
	})
}
