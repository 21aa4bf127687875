package main

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"contactgraph/backend/internal/api"
	"contactgraph/backend/pkg/config"
)

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(&config.Config{Port: "9090"}, http.NotFoundHandler())
	assert.Equal(t, ":9090", srv.Addr)
	assert.Greater(t, srv.WriteTimeout, api.MaxWait)
}
