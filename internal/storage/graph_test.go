package storage

import (
	"context"
	"testing"

	"github.com/asklokesh/next-portal/catalog/internal/config"
	"github.com/asklokesh/next-portal/catalog/pkg/store/memory"
)

func TestOpenGraphBackendMemory(t *testing.T) {
	b, err := OpenGraphBackend(context.Background(), config.Config{Store: config.StoreMemory})
	if err != nil {
		t.Fatalf("OpenGraphBackend: %v", err)
	}
	defer b.Close()
	if _, ok := b.Storage.(*memory.MemoryStorage); !ok {
		t.Fatalf("storage = %T, want *memory.MemoryStorage", b.Storage)
	}
	if b.Pool != nil {
		t.Fatalf("memory backend carries a pool")
	}
}

func TestOpenGraphBackendUnknown(t *testing.T) {
	if _, err := OpenGraphBackend(context.Background(), config.Config{Store: "cassandra"}); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}
