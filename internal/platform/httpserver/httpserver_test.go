package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"karbon/internal/platform/config"
)

func TestNewAppliesServerConfig(t *testing.T) {
	cfg := config.ServerConfig{
		Addr:              ":9090",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       4 * time.Second,
		WriteTimeout:      8 * time.Second,
		IdleTimeout:       16 * time.Second,
	}
	mux := http.NewServeMux()

	srv := New(cfg, mux)

	assert.Equal(t, ":9090", srv.Addr)
	assert.Equal(t, http.Handler(mux), srv.Handler)
	assert.Equal(t, 2*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 4*time.Second, srv.ReadTimeout)
	assert.Equal(t, 8*time.Second, srv.WriteTimeout)
	assert.Equal(t, 16*time.Second, srv.IdleTimeout)
}
