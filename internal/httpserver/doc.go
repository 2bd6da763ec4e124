// Package httpserver wraps net/http.Server with address validation and a
// bounded graceful shutdown. Both the routing listener and the admin listener
// use it.
package httpserver
