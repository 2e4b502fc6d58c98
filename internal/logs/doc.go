// Package logs reads the server log for `aco logs` and GET /api/logs.
//
// Read returns a page of lines plus the byte offset to resume from. A negative
// offset means "the last Limit lines". In follow mode an empty page blocks on
// fsnotify events for up to Request.Wait before returning, so clients can long
// poll without busy looping.
package logs
