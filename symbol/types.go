package symbol

// Type identifies the kind of catalog entry a Node represents
type Type int

// Symbol types
const (
	TypeLgrNetSource Type = iota
	TypeDataFileSource
	TypeDatabaseSource
	TypeStation
	TypeStatisticsStation
	TypeTable
	TypeArray
	TypeScalar
)

var typeNames = map[Type]string{
	TypeLgrNetSource:      "lgrnet_source",
	TypeDataFileSource:    "datafile_source",
	TypeDatabaseSource:    "database_source",
	TypeStation:           "station",
	TypeStatisticsStation: "statistics_station",
	TypeTable:             "table",
	TypeArray:             "array",
	TypeScalar:            "scalar",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// IsSource reports whether t is one of the source root types
func (t Type) IsSource() bool {
	return t <= TypeDatabaseSource
}

// IsStation reports whether t is a station type
func (t Type) IsStation() bool {
	return t == TypeStation || t == TypeStatisticsStation
}

// IsColumn reports whether t is a column type
func (t Type) IsColumn() bool {
	return t == TypeArray || t == TypeScalar
}

// RemovalReason explains why a node left the tree
type RemovalReason int

// Removal reasons
const (
	ReasonConnectionLost RemovalReason = iota
	ReasonStationDeleted
	ReasonTableDeleted
	ReasonStationShutDown
	ReasonSourceRemoved
	ReasonTableChanged
	ReasonColumnDeleted
)

var reasonNames = map[RemovalReason]string{
	ReasonConnectionLost:  "connection_lost",
	ReasonStationDeleted:  "station_deleted",
	ReasonTableDeleted:    "table_deleted",
	ReasonStationShutDown: "station_shut_down",
	ReasonSourceRemoved:   "source_removed",
	ReasonTableChanged:    "table_changed",
	ReasonColumnDeleted:   "column_deleted",
}

func (r RemovalReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// Replaced reports whether the node is about to be re-added in a new shape
func (r RemovalReason) Replaced() bool {
	return r == ReasonTableChanged
}

// Segment is one element of a broken-down URI
type Segment struct {
	Name string
	Type Type
}
