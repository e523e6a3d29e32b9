// Package analytics defines the conversion/audit recording port consumed
// by the billing core, plus a structured-log implementation and an
// in-memory recorder for tests.
//
// Recording is deliberately best-effort: a failed conversion record must
// never undo a plan transition the user already paid for, so callers log
// recorder errors instead of propagating them.
package analytics
