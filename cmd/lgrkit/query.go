package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/config"
	"github.com/c360/lgraccess/output/file"
	"github.com/c360/lgraccess/record"
)

type queryOptions struct {
	start     string
	params    map[string]*string
	order     string
	cacheSize int
	limit     int
	timeout   time.Duration
	out       string
	format    string
}

func newQueryCommand(flags *CLIConfig, stdout, stderr io.Writer) *cobra.Command {
	opts := &queryOptions{params: make(map[string]*string)}
	cmd := &cobra.Command{
		Use:   "query URI",
		Short: "Stream the records selected by URI",
		Long: `query adds one request for URI and writes every delivered record as a
JSON line. It ends when --limit records were written, when the request is
satisfied, when the request fails or when --timeout elapses.

Start options:
  at-newest (default), after-newest, at-record (--record, --file-mark,
  --stamp), at-time (--stamp), relative-to-newest (--backfill),
  at-offset-from-newest (--offset), date-query (--begin, --end)`,
		Example: `  lgrkit query lgr:stn.Hourly --start relative-to-newest --backfill 24h
  lgrkit query db1:Hourly.Temp --start date-query --begin 2024-01-01T00:00:00Z --end 2024-01-02T00:00:00Z --out temp.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := flags.logger(cfg, stderr)
			return runQuery(cmd.Context(), flags, opts, cfg, args[0], stdout, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.start, "start", "", "Start option (default at-newest)")
	for _, p := range []struct{ name, usage string }{
		{access.ParamRecordNo, "Record number for at-record"},
		{access.ParamFileMark, "File mark for at-record"},
		{access.ParamStamp, "Time stamp for at-record and at-time"},
		{access.ParamBackfill, "Backfill interval for relative-to-newest, e.g. 24h"},
		{access.ParamOffset, "Record offset for at-offset-from-newest"},
		{access.ParamBegin, "Begin time for date-query"},
		{access.ParamEnd, "End time for date-query"},
	} {
		opts.params[p.name] = f.String(p.name, "", p.usage)
	}
	f.StringVar(&opts.order, "order", "", "Delivery order: collected, log-reported, real-time")
	f.IntVar(&opts.cacheSize, "cache-size", getEnvInt("LGRKIT_CACHE_SIZE", 0), "Records to keep cached (env: LGRKIT_CACHE_SIZE)")
	f.IntVar(&opts.limit, "limit", 0, "Stop after this many records, 0 for no limit")
	f.DurationVar(&opts.timeout, "timeout", 0, "Stop after this long, 0 to wait for an interrupt")
	f.StringVar(&opts.out, "out", "", "Write records to this file instead of stdout")
	f.StringVar(&opts.format, "format", file.FormatJSONL, "Format for --out: jsonl or json")
	return cmd
}

// request builds the request for u from the command options
func (o *queryOptions) request(u string, sink access.Sink) (*access.Request, error) {
	start, err := access.ParseStartOption(o.start, func(name string) string {
		if v, ok := o.params[name]; ok && v != nil {
			return *v
		}
		return ""
	})
	if err != nil {
		return nil, err
	}

	r := access.NewRequest(u, sink)
	if err := r.SetStart(start); err != nil {
		return nil, err
	}
	if o.order != "" {
		order, ok := access.ParseOrder(o.order)
		if !ok {
			return nil, fmt.Errorf("invalid order: %s", o.order)
		}
		if err := r.SetOrder(order); err != nil {
			return nil, err
		}
	}
	if o.cacheSize < 0 {
		return nil, fmt.Errorf("invalid cache size: %d", o.cacheSize)
	}
	if o.cacheSize > 0 {
		if err := r.SetCacheSize(uint32(o.cacheSize)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func runQuery(ctx context.Context, flags *CLIConfig, opts *queryOptions, cfg *config.Config,
	u string, stdout io.Writer, logger *slog.Logger,
) error {
	if opts.limit < 0 {
		return fmt.Errorf("invalid limit: %d", opts.limit)
	}

	sink := newQuerySink(stdout, opts.limit, logger)
	if opts.out != "" {
		fileCfg := file.DefaultConfig()
		fileCfg.Path = opts.out
		fileCfg.Format = opts.format
		out, err := file.New(fileCfg, logger)
		if err != nil {
			return err
		}
		if err := out.Start(); err != nil {
			return err
		}
		defer func() {
			if err := out.Stop(flags.ShutdownTimeout); err != nil {
				logger.Warn("Failed to close output file", "path", opts.out, "error", err)
			}
		}()
		sink.file = out
	}

	r, err := opts.request(u, sink)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.stop(flags.ShutdownTimeout) }()
	if err := a.start(ctx); err != nil {
		return err
	}

	access.Track(sink)
	defer access.Release(sink)

	var addErr error
	if err := a.call(ctx, func() { addErr = a.manager.AddRequest(r, false) }); err != nil {
		return err
	}
	if addErr != nil {
		return addErr
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	var result error
	select {
	case result = <-sink.done:
	case <-ctx.Done():
		logger.Info("Query ended", "reason", context.Cause(ctx), "records", sink.count())
	}

	access.Release(sink)
	removeCtx, cancel := context.WithTimeout(context.Background(), flags.ShutdownTimeout)
	defer cancel()
	_ = a.call(removeCtx, func() { a.manager.RemoveRequest(r) })
	return result
}

// querySink writes delivered records as JSON lines, or hands them to a file
// sink, and signals done once the query has ended
type querySink struct {
	enc    *json.Encoder
	file   *file.Sink
	limit  int
	logger *slog.Logger

	mu      sync.Mutex
	written int
	done    chan error
	once    sync.Once
}

var _ access.Sink = (*querySink)(nil)

func newQuerySink(w io.Writer, limit int, logger *slog.Logger) *querySink {
	return &querySink{
		enc:    json.NewEncoder(w),
		limit:  limit,
		logger: logger.With("component", "query"),
		done:   make(chan error, 1),
	}
}

func (s *querySink) finish(err error) {
	s.once.Do(func() { s.done <- err })
}

func (s *querySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// OnSinkReady implements access.Sink
func (s *querySink) OnSinkReady(m *access.Manager, r *access.Request, template *record.Record) {
	s.logger.Debug("Request ready", "uri", r.URI(), "values", len(r.Values(template)))
	if s.file != nil {
		s.file.OnSinkReady(m, r, template)
	}
}

// OnSinkRecords implements access.Sink
func (s *querySink) OnSinkRecords(m *access.Manager, requests []*access.Request, records []*record.Record) {
	s.mu.Lock()
	if s.limit > 0 {
		room := s.limit - s.written
		if room <= 0 {
			s.mu.Unlock()
			return
		}
		if len(records) > room {
			records = records[:room]
		}
	}
	s.written += len(records)
	reached := s.limit > 0 && s.written >= s.limit
	s.mu.Unlock()

	if s.file != nil {
		s.file.OnSinkRecords(m, requests, records)
	} else {
		for _, rec := range records {
			for _, r := range requests {
				env := record.NewEnvelope(r.URI(), rec, r.BeginIndex(), r.EndIndex())
				if err := s.enc.Encode(env); err != nil {
					s.finish(fmt.Errorf("write record: %w", err))
					return
				}
			}
		}
	}
	if reached {
		s.finish(nil)
	}
}

// OnSinkFailure implements access.Sink
func (s *querySink) OnSinkFailure(m *access.Manager, r *access.Request, f access.Failure) {
	if s.file != nil {
		s.file.OnSinkFailure(m, r, f)
	}
	if f.IsConnectionLevel() {
		s.logger.Warn("Source connection lost, waiting for reconnect", "uri", r.URI(), "failure", f.String())
		return
	}
	s.finish(fmt.Errorf("request %s failed: %s", r.URI(), f))
}

// OnRequestStateChange implements access.Sink
func (s *querySink) OnRequestStateChange(_ *access.Manager, r *access.Request) {
	if r.State() == access.StateSatisfied {
		s.finish(nil)
	}
}
