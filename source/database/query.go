package database

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/pkg/cache"
	"github.com/c360/lgraccess/pkg/worker"
	"github.com/c360/lgraccess/record"
)

const (
	// queueSize bounds the jobs waiting for a pool worker
	queueSize = 256

	// stopTimeout bounds how long a closing session waits for its workers
	stopTimeout = 5 * time.Second
)

type jobKind int

const (
	jobCatalog jobKind = iota
	jobPoll
	jobRange
)

// job is one unit of pool work. Between submit and its completion event it
// belongs to a worker; otherwise to the loop.
type job struct {
	kind jobKind
	sess *session

	catalog *catalog
	poll    *pollState
	table   *tableInfo
	rng     access.TableRange

	err error
}

// pollState carries one cursor's read position
type pollState struct {
	table     *tableInfo
	start     access.StartOption
	order     access.Order
	cacheSize int
	template  *record.Record

	started   bool
	haveKey   bool
	lastKey   record.Key
	satisfied bool
	records   []*record.Record
}

func newPollState(t *tableInfo, r *access.Request, template *record.Record) *pollState {
	return &pollState{
		table:     t,
		start:     r.Start(),
		order:     r.Order(),
		cacheSize: int(r.CacheSize()),
		template:  template,
	}
}

// session is one open database handle and the pool querying it
type session struct {
	db      *sql.DB
	dialect Dialect
	layouts cache.Cache[*layout]
	loop    *access.Loop
	done    func(*job)

	pool   *worker.Pool[*job]
	cancel context.CancelFunc
	closed chan struct{}
}

func newSession(db *sql.DB, d Dialect, workers int, layouts cache.Cache[*layout], loop *access.Loop, logger *slog.Logger, done func(*job)) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		db:      db,
		dialect: d,
		layouts: layouts,
		loop:    loop,
		done:    done,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	db.SetMaxOpenConns(workers + 1)
	s.pool = worker.NewPool(workers, queueSize, s.run, worker.WithLogger[*job](logger))
	_ = s.pool.Start(ctx)
	return s
}

func (s *session) submit(j *job) error {
	j.sess = s
	return s.pool.Submit(j)
}

// close cancels in-flight queries and releases the handle in the background
func (s *session) close() {
	s.cancel()
	go func() {
		_ = s.pool.Stop(stopTimeout)
		_ = s.db.Close()
		close(s.closed)
	}()
}

func (s *session) wait(timeout time.Duration) bool {
	select {
	case <-s.closed:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *session) run(ctx context.Context, j *job) error {
	switch j.kind {
	case jobCatalog:
		j.catalog, j.err = loadCatalog(ctx, s.db, s.dialect, s.layouts)
	case jobPoll:
		j.err = s.poll(ctx, j.poll)
	case jobRange:
		j.rng, j.err = s.tableRange(ctx, j.table)
	}
	s.loop.Post(func() { s.done(j) })
	return j.err
}

func (s *session) selectList(t *tableInfo) string {
	d := s.dialect
	cols := make([]string, 0, len(t.columns)+2)
	cols = append(cols, d.Quote(ColumnStamp), d.Quote(ColumnRecordNo))
	for _, c := range t.columns {
		if c == "" {
			cols = append(cols, "NULL")
			continue
		}
		cols = append(cols, d.Quote(c))
	}
	return strings.Join(cols, ", ")
}

func (s *session) ascending() string {
	return " ORDER BY " + s.dialect.Quote(ColumnStamp) + ", " + s.dialect.Quote(ColumnRecordNo)
}

func (s *session) descending() string {
	return " ORDER BY " + s.dialect.Quote(ColumnStamp) + " DESC, " + s.dialect.Quote(ColumnRecordNo) + " DESC"
}

// afterKey selects rows past k; inclusive also admits k itself
func (s *session) afterKey(k record.Key, inclusive bool) (string, []any) {
	ts, rn := s.dialect.Quote(ColumnStamp), s.dialect.Quote(ColumnRecordNo)
	op := ">"
	if inclusive {
		op = ">="
	}
	stamp := k.Stamp.UTC()
	return "(" + ts + " > ? OR (" + ts + " = ? AND " + rn + " " + op + " ?))", []any{stamp, stamp, int64(k.RecordNo)}
}

// fetch runs one bounded select over the table's rows
func (s *session) fetch(ctx context.Context, p *pollState, where string, args []any, order string, limit int) ([]*record.Record, error) {
	t := p.table
	q := "SELECT " + s.selectList(t) + " FROM " + s.dialect.Quote(t.DBTable)
	if where != "" {
		q += " WHERE " + where
	}
	q += order + " LIMIT " + strconv.Itoa(limit)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(q), args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "database", "fetch", "query "+t.DBTable)
	}
	defer rows.Close()

	dest := make([]any, len(t.columns)+2)
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	var out []*record.Record
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.WrapInvalid(err, "database", "fetch", "scan "+t.DBTable)
		}
		rec := p.template.Clone()
		if rec.Stamp, err = toTime(dest[0]); err != nil {
			return nil, err
		}
		if rec.RecordNo, err = toRecordNo(dest[1]); err != nil {
			return nil, err
		}
		for i := range rec.Values {
			rec.Values[i].Data = convertValue(rec.Values[i].Desc.Type, dest[i+2])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "database", "fetch", "read "+t.DBTable)
	}
	return out, nil
}

// keyAt returns the key of the row skip places from the newest or oldest end
func (s *session) keyAt(ctx context.Context, t *tableInfo, newest bool, skip int) (record.Key, bool, error) {
	order := s.ascending()
	if newest {
		order = s.descending()
	}
	q := "SELECT " + s.dialect.Quote(ColumnStamp) + ", " + s.dialect.Quote(ColumnRecordNo) +
		" FROM " + s.dialect.Quote(t.DBTable) + order + " LIMIT 1"
	if skip > 0 {
		q += " OFFSET " + strconv.Itoa(skip)
	}
	var stamp, recNo any
	err := s.db.QueryRowContext(ctx, q).Scan(&stamp, &recNo)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Key{}, false, nil
	}
	if err != nil {
		return record.Key{}, false, errors.WrapTransient(err, "database", "keyAt", "query "+t.DBTable)
	}
	var k record.Key
	if k.Stamp, err = toTime(stamp); err != nil {
		return record.Key{}, false, err
	}
	if k.RecordNo, err = toRecordNo(recNo); err != nil {
		return record.Key{}, false, err
	}
	return k, true, nil
}

// poll reads the next batch for a cursor. A start that matches nothing
// leaves the cursor unstarted so the next poll resolves it again.
func (s *session) poll(ctx context.Context, p *pollState) error {
	p.records = nil
	var err error
	if !p.started {
		p.records, err = s.first(ctx, p)
	} else {
		p.records, err = s.resume(ctx, p)
	}
	if err != nil {
		return err
	}
	if n := len(p.records); n > 0 {
		p.started = true
		p.haveKey = true
		p.lastKey = p.records[n-1].Key()
	}
	if p.start.Kind == access.StartDateQuery && p.started && len(p.records) < p.cacheSize {
		p.satisfied = true
	}
	return nil
}

func (s *session) first(ctx context.Context, p *pollState) ([]*record.Record, error) {
	opt := p.start
	ts, rn := s.dialect.Quote(ColumnStamp), s.dialect.Quote(ColumnRecordNo)
	switch opt.Kind {
	case access.StartAtNewest:
		return s.fetch(ctx, p, "", nil, s.descending(), 1)

	case access.StartAfterNewest:
		k, ok, err := s.keyAt(ctx, p.table, true, 0)
		if err != nil {
			return nil, err
		}
		p.started = true
		p.haveKey = ok
		p.lastKey = k
		return nil, nil

	case access.StartAtTime:
		return s.fetch(ctx, p, ts+" >= ?", []any{opt.Stamp.UTC()}, s.ascending(), p.cacheSize)

	case access.StartDateQuery:
		recs, err := s.fetch(ctx, p, ts+" >= ? AND "+ts+" < ?", []any{opt.Begin.UTC(), opt.End.UTC()}, s.ascending(), p.cacheSize)
		if err == nil && len(recs) == 0 {
			// an empty range is complete as soon as it is read
			p.started = true
		}
		return recs, err

	case access.StartAtRecord:
		if opt.Stamp.IsZero() {
			return s.fetch(ctx, p, rn+" >= ?", []any{int64(opt.RecordNo)}, s.ascending(), p.cacheSize)
		}
		where, args := s.afterKey(record.Key{Stamp: opt.Stamp, RecordNo: opt.RecordNo}, true)
		return s.fetch(ctx, p, where, args, s.ascending(), p.cacheSize)

	case access.StartRelativeToNewest:
		k, ok, err := s.keyAt(ctx, p.table, true, 0)
		if err != nil || !ok {
			return nil, err
		}
		return s.fetch(ctx, p, ts+" >= ?", []any{k.Stamp.Add(opt.Backfill).UTC()}, s.ascending(), p.cacheSize)

	case access.StartAtOffsetFromNewest:
		skip := int(opt.Offset) - 1
		if skip < 0 {
			skip = 0
		}
		k, ok, err := s.keyAt(ctx, p.table, true, skip)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.fetch(ctx, p, "", nil, s.ascending(), p.cacheSize)
		}
		where, args := s.afterKey(k, true)
		return s.fetch(ctx, p, where, args, s.ascending(), p.cacheSize)
	}
	return nil, errors.WrapInvalid(errors.ErrInvalidData, "database", "first", "start kind "+opt.Kind.String())
}

// resume continues after the last delivered key. Real time order skips the
// backlog and returns at most the newest row.
func (s *session) resume(ctx context.Context, p *pollState) ([]*record.Record, error) {
	if p.order == access.OrderRealTime {
		recs, err := s.fetch(ctx, p, "", nil, s.descending(), 1)
		if err != nil || len(recs) == 0 {
			return nil, err
		}
		if p.haveKey && !p.lastKey.Less(recs[0].Key()) {
			return nil, nil
		}
		return recs, nil
	}
	var where []string
	var args []any
	if p.haveKey {
		w, a := s.afterKey(p.lastKey, false)
		where = append(where, w)
		args = append(args, a...)
	}
	if p.start.Kind == access.StartDateQuery {
		where = append(where, s.dialect.Quote(ColumnStamp)+" < ?")
		args = append(args, p.start.End.UTC())
	}
	return s.fetch(ctx, p, strings.Join(where, " AND "), args, s.ascending(), p.cacheSize)
}

func (s *session) tableRange(ctx context.Context, t *tableInfo) (access.TableRange, error) {
	var rng access.TableRange
	begin, ok, err := s.keyAt(ctx, t, false, 0)
	if err != nil || !ok {
		return rng, err
	}
	end, _, err := s.keyAt(ctx, t, true, 0)
	if err != nil {
		return rng, err
	}
	rng.Begin = access.RecordPosition{RecordNo: begin.RecordNo, Stamp: begin.Stamp}
	rng.End = access.RecordPosition{RecordNo: end.RecordNo, Stamp: end.Stamp}
	return rng, nil
}
