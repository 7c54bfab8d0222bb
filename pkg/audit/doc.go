// Package audit records who changed which access fact, when, and why.
// Every grant and revocation produces one audit event. Writers are
// pluggable: a JSONL file logger for single-node deployments, a database
// logger for queryable history, a multi-logger to fan out, and a no-op
// default so callers never nil-check.
package audit
