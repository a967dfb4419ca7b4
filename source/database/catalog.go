package database

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/lgraccess/errors"
	"github.com/c360/lgraccess/pkg/cache"
	"github.com/c360/lgraccess/pkg/timestamp"
	"github.com/c360/lgraccess/record"
	"github.com/c360/lgraccess/uri"
)

// tableInfo maps one logger table onto the SQL table holding it
type tableInfo struct {
	Station string
	Name    string
	DBTable string
	Descs   []*record.ValueDesc

	// columns holds one SQL column per template value; "" selects NULL
	columns []string
}

// layout is the probed column shape of a data table
type layout struct {
	descs   []*record.ValueDesc
	columns []string
}

type tableKey struct {
	station string
	table   string
}

// catalog is a snapshot of the metadata table
type catalog struct {
	stations []string
	tables   map[tableKey]*tableInfo

	// skipped lists metadata rows whose data table could not be probed
	skipped []string
}

func (c *catalog) table(station, name string) (*tableInfo, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.tables[tableKey{station, name}]
	return t, ok
}

func (c *catalog) hasStation(station string) bool {
	if c == nil {
		return false
	}
	i := sort.SearchStrings(c.stations, station)
	return i < len(c.stations) && c.stations[i] == station
}

// stationTables returns a station's tables sorted by name
func (c *catalog) stationTables(station string) []*tableInfo {
	var out []*tableInfo
	for k, t := range c.tables {
		if k.station == station {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// loadCatalog reads the metadata table and the layout of every data table.
// Layouts are taken from layouts when present.
func loadCatalog(ctx context.Context, db *sql.DB, d Dialect, layouts cache.Cache[*layout]) (*catalog, error) {
	q := "SELECT station_name, table_name, db_table FROM " + d.Quote(MetaTable)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.WrapTransient(err, "database", "loadCatalog", "query "+MetaTable)
	}
	var infos []*tableInfo
	for rows.Next() {
		t := &tableInfo{}
		if err := rows.Scan(&t.Station, &t.Name, &t.DBTable); err != nil {
			rows.Close()
			return nil, errors.WrapInvalid(err, "database", "loadCatalog", "scan "+MetaTable)
		}
		infos = append(infos, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.WrapTransient(err, "database", "loadCatalog", "read "+MetaTable)
	}
	rows.Close()

	c := &catalog{tables: make(map[tableKey]*tableInfo)}
	seen := make(map[string]bool)
	for _, t := range infos {
		l, ok := layouts.Get(t.DBTable)
		if !ok {
			l, err = probeLayout(ctx, db, d, t.DBTable)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				c.skipped = append(c.skipped, t.Station+"."+t.Name+": "+err.Error())
				continue
			}
			_, _ = layouts.Set(t.DBTable, l)
		}
		t.Descs = l.descs
		t.columns = l.columns
		c.tables[tableKey{t.Station, t.Name}] = t
		if !seen[t.Station] {
			seen[t.Station] = true
			c.stations = append(c.stations, t.Station)
		}
	}
	sort.Strings(c.stations)
	return c, nil
}

type columnType struct {
	name   string
	dbType string
}

// probeLayout reads the column list of a data table without fetching rows
func probeLayout(ctx context.Context, db *sql.DB, d Dialect, dbTable string) (*layout, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+d.Quote(dbTable)+" WHERE 1=0")
	if err != nil {
		return nil, errors.WrapInvalid(err, "database", "probeLayout", "query "+dbTable)
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.WrapInvalid(err, "database", "probeLayout", "column types")
	}
	cols := make([]columnType, 0, len(types))
	for _, ct := range types {
		cols = append(cols, columnType{name: ct.Name(), dbType: ct.DatabaseTypeName()})
	}
	return buildLayout(cols)
}

type columnGroup struct {
	name    string
	dbType  string
	dims    []uint32
	present map[string]string
}

// buildLayout folds subscripted columns such as Temp(1), Temp(2) into one
// array descriptor. Elements with no column of their own read as NULL.
func buildLayout(cols []columnType) (*layout, error) {
	var hasStamp, hasRecNo bool
	var order []*columnGroup
	groups := make(map[string]*columnGroup)
	for _, c := range cols {
		switch {
		case strings.EqualFold(c.name, ColumnStamp):
			hasStamp = true
			continue
		case strings.EqualFold(c.name, ColumnRecordNo):
			hasRecNo = true
			continue
		}
		key, subs := c.name, []uint32(nil)
		if base, s, err := uri.ParseSubscripts(c.name); err == nil && len(s) > 0 {
			if g, ok := groups[base]; !ok || len(g.dims) == len(s) {
				key, subs = base, s
			}
		}
		g, ok := groups[key]
		if !ok {
			g = &columnGroup{name: key, dbType: c.dbType, dims: make([]uint32, len(subs)), present: make(map[string]string)}
			groups[key] = g
			order = append(order, g)
		}
		if len(g.dims) != len(subs) {
			continue
		}
		for i, s := range subs {
			if s > g.dims[i] {
				g.dims[i] = s
			}
		}
		name := key
		if len(subs) > 0 {
			name = record.FormatSubscripts(key, subs)
		}
		g.present[name] = c.name
	}
	if !hasStamp || !hasRecNo {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "database", "buildLayout", "missing "+ColumnStamp+" or "+ColumnRecordNo)
	}

	l := &layout{}
	for _, g := range order {
		desc := &record.ValueDesc{Name: g.name, Type: dataType(g.dbType)}
		if len(g.dims) > 0 {
			desc.Dims = g.dims
		}
		l.descs = append(l.descs, desc)
	}
	for _, v := range record.NewTemplate("", "", l.descs).Values {
		l.columns = append(l.columns, groups[v.Desc.Name].present[v.Name()])
	}
	return l, nil
}

// dataType maps a database column type onto the names data files use
func dataType(dbType string) string {
	t := strings.ToUpper(dbType)
	switch {
	case t == "":
		return "unknown"
	case strings.Contains(t, "INT"):
		return "int"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return "float"
	case strings.Contains(t, "BOOL"):
		return "bool"
	case strings.Contains(t, "TIME"), strings.Contains(t, "DATE"):
		return "time"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"):
		return "string"
	}
	return strings.ToLower(dbType)
}

// convertValue normalizes a scanned column for a descriptor of type typ.
// Text protocols hand numbers back as bytes.
func convertValue(typ string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	s := string(b)
	switch typ {
	case "float":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "int":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return s
}

// toTime converts a scanned TmStamp value
func toTime(v any) (time.Time, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case []byte:
		t = timestamp.Parse(string(x))
	case string:
		t = timestamp.Parse(x)
	case int64:
		t = time.Unix(x, 0)
	}
	if t.IsZero() {
		return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "database", "toTime", ColumnStamp)
	}
	return t.UTC(), nil
}

// toRecordNo converts a scanned RecNum value
func toRecordNo(v any) (uint32, error) {
	switch x := v.(type) {
	case int64:
		return uint32(x), nil
	case float64:
		return uint32(x), nil
	case []byte:
		n, err := strconv.ParseUint(string(x), 10, 32)
		if err == nil {
			return uint32(n), nil
		}
	}
	return 0, errors.WrapInvalid(errors.ErrParsingFailed, "database", "toRecordNo", ColumnRecordNo)
}
