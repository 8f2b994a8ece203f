// Package httputil holds the JSON response and request helpers shared by the
// dispatch API handlers, so every endpoint reports errors with the same
// envelope.
package httputil
