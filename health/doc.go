// Package health tracks the status of SemTrust components (transport,
// ingest loop, snapshot store, publisher runner) and aggregates them for
// the /health endpoint. Error text is sanitized before it is stored so
// URLs, paths and credentials never reach a health response.
package health
