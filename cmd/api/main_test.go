package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vaidashi/marketplace-api/pkg/logger"
)

type fakeServer struct {
	startErr    error
	block       chan struct{}
	shutdowns   int
	shutdownErr error
}

func (s *fakeServer) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	<-s.block
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.shutdowns++
	if s.block != nil {
		close(s.block)
	}
	return s.shutdownErr
}

func TestRunShutsDownWhenStartFails(t *testing.T) {
	server := &fakeServer{startErr: errors.New("listen tcp :8080: address already in use")}

	err := run(context.Background(), server, make(chan os.Signal), time.Second, logger.NewNop())

	assert.EqualError(t, err, "listen tcp :8080: address already in use")
	assert.Equal(t, 1, server.shutdowns)
}

func TestRunShutsDownOnSignal(t *testing.T) {
	server := &fakeServer{block: make(chan struct{})}
	quit := make(chan os.Signal, 1)
	quit <- syscall.SIGTERM

	assert.NoError(t, run(context.Background(), server, quit, time.Second, logger.NewNop()))
	assert.Equal(t, 1, server.shutdowns)
}

func TestRunReportsFailedShutdown(t *testing.T) {
	server := &fakeServer{block: make(chan struct{}), shutdownErr: context.DeadlineExceeded}
	quit := make(chan os.Signal, 1)
	quit <- syscall.SIGINT

	assert.ErrorIs(t, run(context.Background(), server, quit, time.Second, logger.NewNop()), context.DeadlineExceeded)
}
