//go:build integration

package bgsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer starts a Redis container and returns a client
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		container.Terminate(ctx)
	})
	return client
}

func TestRedisStore_Integration(t *testing.T) {
	testStore(t, NewRedisStore(setupRedisContainer(t), ""))
}

func TestRedisStore_Integration_ConcurrentFailures(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()
	s := NewRedisStore(client, "")

	if _, err := s.Register(ctx, DefaultTag); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordFailure(ctx, DefaultTag, errors.New("offline"))
		}()
	}
	wg.Wait()

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 2 {
		t.Errorf("Pending() = %+v, want one registration with 2 attempts", pending)
	}
}

func TestRedisStore_Integration_SharedAcrossProcesses(t *testing.T) {
	client := setupRedisContainer(t)
	ctx := context.Background()

	first := NewRedisStore(client, "")
	if _, err := first.Register(ctx, DefaultTag); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	second := NewRedisStore(client, "")
	pending, err := second.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Tag != DefaultTag {
		t.Errorf("Pending() = %+v", pending)
	}
}
