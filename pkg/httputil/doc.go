// Package httputil holds the small HTTP helpers shared by the admin server:
// JSON responses and request id and access log middleware.
package httputil
