// Package postgres archives finished tasks in PostgreSQL.
//
// The archive lets status queries answer for tasks that have been evicted
// from in-memory retention or that finished before a restart. Schema
// changes are goose migrations embedded in the binary.
package postgres
