package app

import (
	"net/http"
)

// NewTransport is the outbound RoundTripper shared by the weather client and
// the senders; tests swap it for a stub.
func NewTransport() http.RoundTripper {
	return http.DefaultTransport
}
