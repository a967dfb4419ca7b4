package database

import (
	"strconv"
	"strings"

	"github.com/c360/lgraccess/errors"
)

// Supported driver names, as registered with database/sql
const (
	DriverSQLite3  = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Reserved columns every data table carries
const (
	ColumnStamp    = "TmStamp"
	ColumnRecordNo = "RecNum"
)

// MetaTable lists the logger tables a database holds
const MetaTable = "lgr_tables"

// Dialect covers the SQL differences between the supported drivers
type Dialect struct {
	name      string
	quoteChar byte
	numbered  bool
}

var dialects = map[string]Dialect{
	DriverSQLite3:  {name: DriverSQLite3, quoteChar: '"'},
	DriverPostgres: {name: DriverPostgres, quoteChar: '"', numbered: true},
	DriverMySQL:    {name: DriverMySQL, quoteChar: '`'},
}

// DialectFor returns the dialect for a driver name
func DialectFor(driver string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return Dialect{}, errors.WrapInvalid(errors.ErrUnsupported, "database", "DialectFor", "driver "+driver)
	}
	return d, nil
}

// Name returns the driver name
func (d Dialect) Name() string { return d.name }

// Quote renders an identifier, doubling any embedded quote character
func (d Dialect) Quote(ident string) string {
	q := string(d.quoteChar)
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// Rebind rewrites ? placeholders into the driver's form
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := byte(0)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quoted != 0:
			if c == quoted {
				quoted = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quoted = c
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
