package credstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/zalando/go-keyring"

	"github.com/florianilch/kokomemo/internal/credstore"
)

var testPair = credstore.Pair{AccessToken: "access-1", RefreshToken: "refresh-1"}

// backends returns a fresh instance of every Store implementation.
func backends(t *testing.T) map[string]credstore.Store {
	t.Helper()

	fileStore, err := credstore.NewFileStore(filepath.Join(t.TempDir(), "nested", "credentials.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	keyring.MockInit()
	keyringStore, err := credstore.NewKeyringStore("kokomemo-test", "alice")
	if err != nil {
		t.Fatalf("NewKeyringStore: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisStore, err := credstore.NewRedisStore(client, "kokomemo:test")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}

	return map[string]credstore.Store{
		"memory":  credstore.NewMemoryStore(),
		"file":    fileStore,
		"keyring": keyringStore,
		"redis":   redisStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Load(ctx); !errors.Is(err, credstore.ErrNotFound) {
				t.Fatalf("Load on empty store: got %v, want ErrNotFound", err)
			}

			if err := store.Save(ctx, testPair); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != testPair {
				t.Errorf("Load = %+v, want %+v", got, testPair)
			}

			rotated := credstore.Pair{AccessToken: "access-2", RefreshToken: "refresh-2"}
			if err := store.Save(ctx, rotated); err != nil {
				t.Fatalf("Save rotated: %v", err)
			}
			got, err = store.Load(ctx)
			if err != nil {
				t.Fatalf("Load rotated: %v", err)
			}
			if got != rotated {
				t.Errorf("Load after overwrite = %+v, want %+v", got, rotated)
			}

			if err := store.Clear(ctx); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, err := store.Load(ctx); !errors.Is(err, credstore.ErrNotFound) {
				t.Errorf("Load after Clear: got %v, want ErrNotFound", err)
			}

			// Clearing twice is fine
			if err := store.Clear(ctx); err != nil {
				t.Errorf("second Clear: %v", err)
			}
		})
	}
}

func TestStoreRejectsIncompletePair(t *testing.T) {
	tests := []struct {
		name string
		pair credstore.Pair
	}{
		{name: "missing refresh token", pair: credstore.Pair{AccessToken: "a"}},
		{name: "missing access token", pair: credstore.Pair{RefreshToken: "r"}},
		{name: "empty pair", pair: credstore.Pair{}},
	}

	for name, store := range backends(t) {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				err := store.Save(context.Background(), tt.pair)
				if !errors.Is(err, credstore.ErrIncompletePair) {
					t.Fatalf("Save(%+v): got %v, want ErrIncompletePair", tt.pair, err)
				}
				if _, err := store.Load(context.Background()); !errors.Is(err, credstore.ErrNotFound) {
					t.Errorf("rejected Save left data behind: %v", err)
				}
			})
		}
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Load(ctx); !errors.Is(err, context.Canceled) {
				t.Errorf("Load: got %v, want context.Canceled", err)
			}
			if err := store.Save(ctx, testPair); !errors.Is(err, context.Canceled) {
				t.Errorf("Save: got %v, want context.Canceled", err)
			}
			if err := store.Clear(ctx); !errors.Is(err, context.Canceled) {
				t.Errorf("Clear: got %v, want context.Canceled", err)
			}
		})
	}
}

func TestKeyringStoreHalfPairIsReported(t *testing.T) {
	keyring.MockInit()
	store, err := credstore.NewKeyringStore("kokomemo-test", "bob")
	if err != nil {
		t.Fatalf("NewKeyringStore: %v", err)
	}

	// Simulate another process deleting one entry
	if err := keyring.Set("kokomemo-test", "bob/access_token", "orphan"); err != nil {
		t.Fatalf("keyring.Set: %v", err)
	}

	if _, err := store.Load(context.Background()); !errors.Is(err, credstore.ErrIncompletePair) {
		t.Fatalf("Load: got %v, want ErrIncompletePair", err)
	}
}

func TestRedisStoreHalfPairIsReported(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	store, err := credstore.NewRedisStore(client, "kokomemo")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	if err := mr.Set("kokomemo:refresh_token", "orphan"); err != nil {
		t.Fatalf("miniredis Set: %v", err)
	}

	if _, err := store.Load(context.Background()); !errors.Is(err, credstore.ErrIncompletePair) {
		t.Fatalf("Load: got %v, want ErrIncompletePair", err)
	}
}

func TestConstructorValidation(t *testing.T) {
	if _, err := credstore.NewFileStore(""); err == nil {
		t.Error("NewFileStore(\"\") succeeded")
	}
	if _, err := credstore.NewKeyringStore("", "user"); err == nil {
		t.Error("NewKeyringStore with empty service succeeded")
	}
	if _, err := credstore.NewKeyringStore("service", ""); err == nil {
		t.Error("NewKeyringStore with empty user succeeded")
	}
	if _, err := credstore.NewRedisStore(nil, "prefix"); err == nil {
		t.Error("NewRedisStore with nil client succeeded")
	}
	if _, err := credstore.DialRedisStore("", "prefix"); err == nil {
		t.Error("DialRedisStore with empty address succeeded")
	}
}
