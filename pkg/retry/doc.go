// Package retry provides exponential backoff for operations that fail
// transiently, such as opening a data file while the logger is writing it or
// dialing the server transport.
//
// Do stops early on errors classified as invalid or fatal by the errors
// package, so callers signal "do not retry" by wrapping:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    f, err := os.Open(path)
//	    if os.IsNotExist(err) {
//	        return errors.WrapInvalid(err, "Worker", "open", "open data file")
//	    }
//	    ...
//	})
//
// Presets: DefaultConfig (3 attempts), Quick (10 attempts, up to 1s apart)
// and Persistent (30 attempts, up to 10s apart).
package retry
