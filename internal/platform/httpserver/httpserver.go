// Package httpserver builds the service's HTTP server from configuration.
package httpserver

import (
	"net/http"

	"karbon/internal/platform/config"
)

// New builds the admin-surface HTTP server with the configured timeouts.
// The write timeout bounds slow anchor-export downloads; the read timeouts
// keep slow clients from pinning connections.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
