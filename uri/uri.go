// Package uri splits and formats the data-item URIs used to address requests
// and symbols:
//
//	["]source["]:segment[.segment...]
//
// A literal '.' inside a segment is written as `\.` and a literal backslash as
// `\\`. The final segment may carry array subscripts, for example Temp(1,2).
package uri

import (
	"strconv"
	"strings"

	"github.com/c360/lgraccess/errors"
)

// Separator delimits path segments
const Separator = '.'

// Split separates the source name from the path. The path stays escaped.
func Split(u string) (source, path string, err error) {
	if u == "" {
		return "", "", errors.WrapInvalid(errors.ErrInvalidData, "uri", "Split", "empty uri")
	}
	if u[0] == '"' {
		end := strings.IndexByte(u[1:], '"')
		if end < 0 {
			return "", "", errors.WrapInvalid(errors.ErrParsingFailed, "uri", "Split", "source quote match")
		}
		source = u[1 : end+1]
		rest := u[end+2:]
		switch {
		case rest == "":
			return source, "", nil
		case rest[0] != ':':
			return "", "", errors.WrapInvalid(errors.ErrParsingFailed, "uri", "Split", "source separator")
		}
		return source, rest[1:], nil
	}
	if i := strings.IndexByte(u, ':'); i >= 0 {
		return u[:i], u[i+1:], nil
	}
	return u, "", nil
}

// Escape escapes separators and backslashes in a single segment name
func Escape(name string) string {
	if !strings.ContainsAny(name, `.\`) {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '\\' || c == Separator {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Unescape reverses Escape
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// SplitPath splits an escaped path at unescaped separators and returns the
// unescaped segment names
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	var (
		segs []string
		cur  strings.Builder
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\\' && i+1 < len(path):
			i++
			cur.WriteByte(path[i])
		case c == Separator:
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(segs, cur.String())
}

// ParseSubscripts splits "Temp(1,2)" into "Temp" and [1 2]. A name without
// subscripts returns nil subscripts.
func ParseSubscripts(seg string) (string, []uint32, error) {
	open := strings.IndexByte(seg, '(')
	if open < 0 || !strings.HasSuffix(seg, ")") {
		return seg, nil, nil
	}
	name := seg[:open]
	inner := seg[open+1 : len(seg)-1]
	if name == "" || inner == "" {
		return "", nil, errors.WrapInvalid(errors.ErrParsingFailed, "uri", "ParseSubscripts", "subscript list")
	}
	parts := strings.Split(inner, ",")
	subs := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil || n == 0 {
			return "", nil, errors.WrapInvalid(errors.ErrParsingFailed, "uri", "ParseSubscripts", "subscript "+p)
		}
		subs = append(subs, uint32(n))
	}
	return name, subs, nil
}

// Format builds a URI from a source name and unescaped segment names
func Format(source string, segments ...string) string {
	var b strings.Builder
	if needsQuote(source) {
		b.WriteByte('"')
		b.WriteString(source)
		b.WriteByte('"')
	} else {
		b.WriteString(source)
	}
	if len(segments) == 0 {
		return b.String()
	}
	b.WriteByte(':')
	for i, s := range segments {
		if i > 0 {
			b.WriteByte(Separator)
		}
		b.WriteString(Escape(s))
	}
	return b.String()
}

func needsQuote(source string) bool {
	return strings.ContainsAny(source, `:." `)
}
