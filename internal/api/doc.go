// Package api contains the HTTP handlers for the enhancement run surface,
// plus the error-to-status mapping that keeps internal failures from
// leaking to clients. Request/response helpers live in shared/ and the
// auth and trace middlewares in middleware/.
package api
