// Package errors provides standardized error handling for lgraccess.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or a violated call contract, not retryable) and Fatal
// (unrecoverable). Sources use the class to decide what happens next:
//
//   - Transient: the connection is torn down and a reconnect timer is armed
//   - Invalid: the caller gets the error back immediately and nothing is retried
//   - Fatal: the component stops and reports itself unhealthy
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and the classified wrappers keep the class attached through the chain:
//
//	errors.WrapTransient(err, "Source", "Connect", "logon")
//	errors.WrapInvalid(errors.ErrRequestFrozen, "Request", "SetOrder", "option update")
//	errors.WrapFatal(err, "Worker", "run", "index build")
//
// # Request failures
//
// Errors in this package never reach a Sink. Sources translate them into the
// closed access.Failure enum at the backend boundary; the free-text message
// goes to the manager's log channel instead.
package errors
