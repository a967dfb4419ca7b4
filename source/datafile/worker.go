package datafile

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/pkg/buffer"
	"github.com/c360/lgraccess/pkg/retry"
	"github.com/c360/lgraccess/record"
)

const (
	// idleWait bounds how long a hibernating worker sleeps without a trigger
	idleWait = 5 * time.Second

	// poolSize is the number of records each cursor keeps for reuse
	poolSize = 64
)

// pollJob carries one cursor's read state. Between addRead and the
// completion event it belongs to the worker; otherwise to the loop.
type pollJob struct {
	arrayID   uint32
	start     access.StartOption
	order     access.Order
	cacheSize int
	template  *record.Record

	started   bool
	lastKey   record.Key
	satisfied bool
	records   []*record.Record
	pool      buffer.Buffer[*record.Record]

	// probe jobs only report the table range
	probe bool
	rng   access.TableRange
	found bool
}

// newPollJob prepares the read state for r. Without a record pool the job
// clones the template for every record.
func newPollJob(arrayID uint32, r *access.Request, template *record.Record, logger *slog.Logger) *pollJob {
	pool, err := buffer.NewCircularBuffer(poolSize, buffer.WithOverflowPolicy[*record.Record](buffer.DropNewest))
	if err != nil {
		logger.Debug("Record pool disabled", "uri", r.URI(), "error", err)
		pool = nil
	}
	return &pollJob{
		arrayID:   arrayID,
		start:     r.Start(),
		order:     r.Order(),
		cacheSize: int(r.CacheSize()),
		template:  template,
		pool:      pool,
	}
}

func (j *pollJob) acquire() *record.Record {
	if j.pool != nil {
		if rec, ok := j.pool.Read(); ok {
			return rec
		}
	}
	return j.template.Clone()
}

func (j *pollJob) release(rec *record.Record) {
	if j.pool != nil {
		_ = j.pool.Write(rec)
	}
}

// recycle returns delivered records to the pool
func (j *pollJob) recycle() {
	for _, rec := range j.records {
		j.release(rec)
	}
	j.records = j.records[:0]
}

// engineEvents receives the worker's completion events on the loop
type engineEvents interface {
	engineOpened(e *engine, h Header)
	engineReadComplete(e *engine, j *pollJob)
	engineFailed(e *engine, err error)
}

// engine is the worker goroutine that owns a Reader and its index. The loop
// talks to it only through addRead and the posted events.
type engine struct {
	path     string
	backfill int64
	loop     *access.Loop
	events   engineEvents
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []*pollJob
	closing bool
	trigger chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	// worker owned
	reader  Reader
	ix      *index
	info    os.FileInfo
	scanEnd int64
	awake   bool
}

func newEngine(reader Reader, path string, backfill int64, loop *access.Loop, events engineEvents, logger *slog.Logger) *engine {
	return &engine{
		path:     path,
		backfill: backfill,
		loop:     loop,
		events:   events,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		reader:   reader,
		ix:       newIndex(),
	}
}

// start launches the worker goroutine
func (e *engine) start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)
}

// stop asks the worker to exit without waiting for it
func (e *engine) stop() {
	e.mu.Lock()
	e.closing = true
	e.queue = nil
	e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.wake()
}

// wait blocks until the worker has exited or timeout elapses
func (e *engine) wait(timeout time.Duration) bool {
	select {
	case <-e.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// addRead queues j for the worker
func (e *engine) addRead(j *pollJob) {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, j)
	e.mu.Unlock()
	e.wake()
}

func (e *engine) wake() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *engine) take() ([]*pollJob, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	jobs := e.queue
	e.queue = nil
	return jobs, e.closing
}

func (e *engine) post(fn func()) {
	e.loop.Post(fn)
}

func (e *engine) fail(err error) {
	e.logger.Warn("Data file worker failed", "path", e.path, "error", err)
	e.post(func() { e.events.engineFailed(e, err) })
}

func (e *engine) run(ctx context.Context) {
	defer close(e.done)
	defer func() {
		if err := e.reader.Close(); err != nil {
			e.logger.Debug("Data file close failed", "path", e.path, "error", err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			e.fail(errors.WrapFatal(errors.ErrDataCorrupted, "engine", "run", "index maintenance"))
		}
	}()

	err := retry.Do(ctx, retry.Quick(), e.rebuild)
	if err != nil {
		if ctx.Err() == nil {
			e.fail(err)
		}
		return
	}

	for {
		jobs, closing := e.take()
		if closing {
			return
		}
		if len(jobs) == 0 {
			e.hibernate()
			timer := time.NewTimer(idleWait)
			select {
			case <-e.trigger:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}
		if err := e.service(jobs); err != nil {
			if ctx.Err() == nil {
				e.fail(err)
			}
			return
		}
	}
}

func (e *engine) hibernate() {
	if !e.awake {
		return
	}
	if err := e.reader.Hibernate(); err != nil {
		e.logger.Debug("Data file hibernate failed", "path", e.path, "error", err)
	}
	e.awake = false
}

func (e *engine) service(jobs []*pollJob) error {
	if !e.awake {
		if err := e.reader.Wake(); err != nil {
			return err
		}
		e.awake = true
	}
	if err := e.refresh(); err != nil {
		return err
	}
	for _, j := range jobs {
		if j.probe {
			e.probe(j)
		} else {
			e.poll(j)
		}
		e.post(func() { e.events.engineReadComplete(e, j) })
	}
	return nil
}

// rebuild reopens the reader and indexes the file from the backfill start
func (e *engine) rebuild() error {
	h, err := e.reader.Open()
	if err != nil {
		return err
	}
	info, err := os.Stat(e.path)
	if err != nil {
		return errors.WrapTransient(err, "engine", "rebuild", "stat")
	}
	e.ix.reset()
	from := backfillStart(info.Size(), e.backfill, e.reader.DataStart())
	var fresh []IndexEntry
	end, err := e.reader.Scan(from, func(en IndexEntry) { fresh = append(fresh, en) })
	if err != nil {
		return err
	}
	e.ix.merge(fresh)
	e.info = info
	e.scanEnd = end
	e.awake = true
	e.logger.Debug("Data file indexed", "path", e.path, "entries", e.ix.len(), "scan_end", end)
	e.post(func() { e.events.engineOpened(e, h) })
	return nil
}

// refresh brings the index up to date with the file on disk
func (e *engine) refresh() error {
	info, err := os.Stat(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WrapInvalid(errors.ErrNotFound, "engine", "refresh", "file "+e.path+" lookup")
		}
		return errors.WrapTransient(err, "engine", "refresh", "stat")
	}
	if e.info == nil || !os.SameFile(e.info, info) || info.Size() < e.scanEnd {
		return e.rebuild()
	}
	if info.Size() == e.scanEnd && info.ModTime().Equal(e.info.ModTime()) {
		return nil
	}
	e.ix.truncateBefore(backfillStart(info.Size(), e.backfill, e.reader.DataStart()))
	var fresh []IndexEntry
	end, err := e.reader.Scan(e.scanEnd, func(en IndexEntry) { fresh = append(fresh, en) })
	if err != nil {
		return err
	}
	e.ix.merge(fresh)
	e.scanEnd = end
	e.info = info
	return nil
}

func (e *engine) probe(j *pollJob) {
	es := e.ix.entries(j.arrayID)
	j.found = len(es) > 0
	if !j.found {
		return
	}
	first, last := es[0].Key, es[len(es)-1].Key
	j.rng = access.TableRange{
		Begin: access.RecordPosition{RecordNo: first.RecordNo, Stamp: first.Stamp},
		End:   access.RecordPosition{RecordNo: last.RecordNo, Stamp: last.Stamp},
	}
}

// poll reads the next batch for j
func (e *engine) poll(j *pollJob) {
	es := e.ix.entries(j.arrayID)
	var pos int
	if !j.started {
		if len(es) == 0 {
			// nothing is written yet, so everything that arrives is new
			if j.start.Kind == access.StartAfterNewest {
				j.started = true
				j.lastKey = record.Key{}
			}
			return
		}
		pos = resolveStart(es, j.start, j.arrayID)
		if pos >= len(es) {
			// only after-newest starts past the end; the others resolve again
			// once matching data arrives
			if j.start.Kind == access.StartAfterNewest {
				j.started = true
				j.lastKey = es[len(es)-1].Key
			}
			return
		}
		j.started = true
	} else {
		pos = resumePosition(es, j.order, j.lastKey)
	}

	limit := j.cacheSize
	if limit <= 0 {
		limit = access.DefaultCacheSize
	}
	for ; pos < len(es) && len(j.records) < limit; pos++ {
		en := es[pos]
		if j.start.Kind == access.StartDateQuery && !en.Key.Stamp.Before(j.start.End) {
			j.satisfied = true
			break
		}
		rec := j.acquire()
		if err := e.reader.Read(en, rec); err != nil {
			j.release(rec)
			break
		}
		j.records = append(j.records, rec)
		j.lastKey = en.Key
	}
}
