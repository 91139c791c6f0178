// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between external clients
// and the task engine, translating HTTP concerns to engine operations and
// engine errors to status codes with stable error kinds.
package api
