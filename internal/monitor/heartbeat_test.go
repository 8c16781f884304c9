package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeat_Pings(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hb := NewHeartbeat(map[string]string{"cleanup": srv.URL + "/hb/cleanup/"}, time.Second)
	ctx := context.Background()

	hb.Success(ctx, "cleanup")
	hb.Failure(ctx, "cleanup", errors.New("db down"))
	hb.Success(ctx, "unknown")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/hb/cleanup", "/hb/cleanup/fail"}, paths)
}

func TestHeartbeat_UnreachableDoesNotPanic(t *testing.T) {
	hb := NewHeartbeat(map[string]string{"payouts": "http://127.0.0.1:1"}, 100*time.Millisecond)
	assert.NotPanics(t, func() {
		hb.Success(context.Background(), "payouts")
	})
}
