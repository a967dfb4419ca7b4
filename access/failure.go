package access

// Failure is the closed set of request failure codes surfaced to sinks
type Failure int

// Failure codes
const (
	FailureUnknown Failure = iota
	FailureInvalidSource
	FailureConnectionFailed
	FailureInvalidLogon
	FailureInvalidStationName
	FailureInvalidTableName
	FailureServerSecurity
	FailureInvalidStartOption
	FailureInvalidOrderOption
	FailureTableDeleted
	FailureStationShutDown
	FailureUnsupported
	FailureInvalidColumnName
	FailureInvalidArrayAddress
)

var failureNames = [...]string{
	FailureUnknown:             "unknown",
	FailureInvalidSource:       "invalid_source",
	FailureConnectionFailed:    "connection_failed",
	FailureInvalidLogon:        "invalid_logon",
	FailureInvalidStationName:  "invalid_station_name",
	FailureInvalidTableName:    "invalid_table_name",
	FailureServerSecurity:      "server_security",
	FailureInvalidStartOption:  "invalid_start_option",
	FailureInvalidOrderOption:  "invalid_order_option",
	FailureTableDeleted:        "table_deleted",
	FailureStationShutDown:     "station_shut_down",
	FailureUnsupported:         "unsupported",
	FailureInvalidColumnName:   "invalid_column_name",
	FailureInvalidArrayAddress: "invalid_array_address",
}

func (f Failure) String() string {
	if f >= 0 && int(f) < len(failureNames) {
		return failureNames[f]
	}
	return "unknown"
}

// ParseFailure maps a failure name back to its code. Unknown names map to
// FailureUnknown.
func ParseFailure(s string) Failure {
	for i, name := range failureNames {
		if name == s {
			return Failure(i)
		}
	}
	return FailureUnknown
}

// IsConnectionLevel reports whether the failure means the backend as a whole
// is unreachable rather than one request being wrong
func (f Failure) IsConnectionLevel() bool {
	return f == FailureConnectionFailed || f == FailureInvalidLogon
}

// DisablesColumnRestriction reports whether a cursor family should stop
// restricting its feed to named columns after this failure
func (f Failure) DisablesColumnRestriction() bool {
	return f == FailureInvalidColumnName || f == FailureInvalidArrayAddress
}

// DisconnectReason explains a source disconnect to manager clients
type DisconnectReason int

// Disconnect reasons
const (
	DisconnectConnectionFailed DisconnectReason = iota
	DisconnectPropertiesChanged
	DisconnectByApplication
	DisconnectInvalidLogon
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectConnectionFailed:
		return "connection_failed"
	case DisconnectPropertiesChanged:
		return "properties_changed"
	case DisconnectByApplication:
		return "by_application"
	case DisconnectInvalidLogon:
		return "invalid_logon"
	default:
		return "unknown"
	}
}
