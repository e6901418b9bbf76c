package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	sets map[string]map[string]struct{}
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string), sets: make(map[string]map[string]struct{})}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if val, ok := f.data[key]; ok {
		return redis.NewStringResult(val, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
		delete(f.sets, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	for _, member := range members {
		set[member.(string)] = struct{}{}
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var members []string
	for member := range f.sets[key] {
		members = append(members, member)
	}
	return redis.NewStringSliceResult(members, nil)
}

func TestLoadMemoizaEInvalidaPorTabela(t *testing.T) {
	store := New(newFakeRedis(), time.Minute)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return []string{"nf-001", "nf-002"}, nil
	}

	var got []string
	if err := store.Load(ctx, "notas_fiscais", "lista", &got, loader); err != nil {
		t.Fatalf("primeira carga falhou: %v", err)
	}
	if err := store.Load(ctx, "notas_fiscais", "lista", &got, loader); err != nil {
		t.Fatalf("segunda carga falhou: %v", err)
	}
	if loads != 1 {
		t.Fatalf("segunda leitura deveria vir do cache, houve %d cargas", loads)
	}

	store.InvalidateTable(ctx, "notas_fiscais")

	if err := store.Load(ctx, "notas_fiscais", "lista", &got, loader); err != nil {
		t.Fatalf("carga pós-invalidação falhou: %v", err)
	}
	if loads != 2 {
		t.Fatalf("invalidação deveria forçar recarga, houve %d cargas", loads)
	}
	if len(got) != 2 || got[0] != "nf-001" {
		t.Fatalf("resultado inesperado: %v", got)
	}
}

func TestCargasConcorrentesDeduplicadas(t *testing.T) {
	store := New(newFakeRedis(), time.Minute)
	ctx := context.Background()

	var loads int64
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&loads, 1)
		time.Sleep(20 * time.Millisecond)
		return map[string]string{"status": "ARMAZENADA"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var dest map[string]string
			if err := store.Load(ctx, "notas_fiscais", "nf:123", &dest, loader); err != nil {
				t.Errorf("carga concorrente falhou: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt64(&loads) != 1 {
		t.Fatalf("esperava no máximo uma carga em voo, houve %d", loads)
	}
}

func TestLoadSemRedisAindaCarrega(t *testing.T) {
	store := New(nil, time.Minute)

	var dest []int
	err := store.Load(context.Background(), "pedidos", "lista", &dest, func(ctx context.Context) (any, error) {
		return []int{1, 2, 3}, nil
	})
	if err != nil {
		t.Fatalf("carga sem redis falhou: %v", err)
	}
	if len(dest) != 3 {
		t.Fatalf("resultado inesperado: %v", dest)
	}
}
