package server_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/roomchat/internal/server"
)

func TestCreateServer(t *testing.T) {
	handler := http.NewServeMux()
	srv := server.CreateServer(":9999", handler)

	assert.Equal(t, ":9999", srv.Addr)
	assert.Equal(t, handler, srv.Handler)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
	assert.Positive(t, srv.ReadHeaderTimeout)
}

func TestConcurrentShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.dial(t, "/ws/7", "alice-token")
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.srv.Shutdown(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, env.srv.Hub().RoomSize(7))
}
