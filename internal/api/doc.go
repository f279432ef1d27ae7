// Package api exposes the HTTP surface for queued pipeline runs: submitting a
// product request, listing recent runs and fetching one run with its final
// fact sheet. It also serves health and Prometheus metrics endpoints.
package api
