package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"results":[]}`)
	uri, err := store.PutObject(context.Background(), "raw/spring-gp/stock/abc.json", "application/json", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://raw/spring-gp/stock/abc.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'X'
	stored, ok := store.Object("raw/spring-gp/stock/abc.json")
	if !ok || string(stored) != `{"results":[]}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one object, got %d", store.Len())
	}
}
