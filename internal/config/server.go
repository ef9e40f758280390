package config

import (
	"fmt"
	"net/http"
	"time"
)

// NewHTTPServer creates and returns a configured *http.Server listening on port.
// No write timeout: downloads stream for as long as the file takes.
func NewHTTPServer(port string, handler http.Handler) *http.Server {
	if port == "" {
		port = "8080"
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
