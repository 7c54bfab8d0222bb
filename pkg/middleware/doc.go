// Package middleware provides HTTP middleware for the access ops server:
// request identification, structured request logging, panic recovery, and
// per-caller rate limiting with in-memory and Redis-backed limiters.
package middleware
