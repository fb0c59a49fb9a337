package submitter

import (
	"context"
	"errors"
	"path"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/google/go-cmp/cmp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tesseralabs/arbiter/submitter/leveldb"
	"github.com/tesseralabs/arbiter/submitter/redis"
	"github.com/tesseralabs/arbiter/submitter/slice"
	"github.com/tesseralabs/arbiter/submitter/storage"
	"github.com/tesseralabs/arbiter/util/arbmath"
	"github.com/tesseralabs/arbiter/util/redisutil"
	"github.com/tesseralabs/arbiter/util/signature"
)

func newLevelDBStorage[Item any](t *testing.T) *leveldb.Storage[Item] {
	t.Helper()
	db, err := rawdb.NewLevelDBDatabase(path.Join(t.TempDir(), "level.db"), 0, 0, "default", false)
	if err != nil {
		t.Fatalf("NewLevelDBDatabase() unexpected error: %v", err)
	}
	return leveldb.New[Item](db)
}

func newSliceStorage[Item any]() *slice.Storage[Item] {
	return slice.NewStorage[Item]()
}

func newRedisStorage[Item any](ctx context.Context, t *testing.T) *redis.Storage[Item] {
	t.Helper()
	redisUrl := redisutil.CreateTestRedis(ctx, t)
	client, err := redisutil.RedisClientFromURL(redisUrl)
	if err != nil {
		t.Fatalf("RedisClientFromURL(%q) unexpected error: %v", redisUrl, err)
	}
	s, err := redis.NewStorage[Item](client, "", &signature.TestSimpleHmacConfig)
	if err != nil {
		t.Fatalf("redis.NewStorage() unexpected error: %v", err)
	}
	return s
}

// Initializes the QueueStorage. Returns the same object (for convenience).
func initStorage(ctx context.Context, t *testing.T, s QueueStorage[string]) QueueStorage[string] {
	t.Helper()
	for i := 0; i < 20; i++ {
		val := strconv.Itoa(i)
		if err := s.Put(ctx, uint64(i), nil, &val); err != nil {
			t.Fatalf("Error putting a key/value: %v", err)
		}
	}
	return s
}

// Returns a map of all empty storages.
func storages(t *testing.T) map[string]QueueStorage[string] {
	t.Helper()
	return map[string]QueueStorage[string]{
		"levelDB": newLevelDBStorage[string](t),
		"slice":   newSliceStorage[string](),
		"redis":   newRedisStorage[string](context.Background(), t),
	}
}

// Returns a map of all initialized storages.
func initStorages(ctx context.Context, t *testing.T) map[string]QueueStorage[string] {
	t.Helper()
	m := map[string]QueueStorage[string]{}
	for k, v := range storages(t) {
		m[k] = initStorage(ctx, t, v)
	}
	return m
}

func strPtrs(values []string) []*string {
	var res []*string
	for _, val := range values {
		v := val
		res = append(res, &v)
	}
	return res
}

func TestGetContents(t *testing.T) {
	ctx := context.Background()
	for name, s := range initStorages(ctx, t) {
		for _, tc := range []struct {
			desc       string
			startIdx   uint64
			maxResults uint64
			want       []*string
		}{
			{
				desc:       "sequence with single digits",
				startIdx:   5,
				maxResults: 3,
				want:       strPtrs([]string{"5", "6", "7"}),
			},
			{
				desc:       "corner case of single element",
				startIdx:   0,
				maxResults: 1,
				want:       strPtrs([]string{"0"}),
			},
			{
				desc:       "no elements",
				startIdx:   3,
				maxResults: 0,
				want:       strPtrs([]string{}),
			},
			{
				// Making sure it's correctly ordered lexicographically.
				desc:       "sequence with variable number of digits",
				startIdx:   9,
				maxResults: 3,
				want:       strPtrs([]string{"9", "10", "11"}),
			},
			{
				desc:       "max results goes over the last element",
				startIdx:   13,
				maxResults: 10,
				want:       strPtrs([]string{"13", "14", "15", "16", "17", "18", "19"}),
			},
		} {
			t.Run(name+"_"+tc.desc, func(t *testing.T) {
				values, err := s.GetContents(ctx, tc.startIdx, tc.maxResults)
				if err != nil {
					t.Fatalf("GetContents(%d, %d) unexpected error: %v", tc.startIdx, tc.maxResults, err)
				}
				if diff := cmp.Diff(tc.want, values); diff != "" {
					t.Errorf("GetContents(%d, %d) unexpected diff:\n%s", tc.startIdx, tc.maxResults, diff)
				}
			})
		}
	}
}

func TestGetLast(t *testing.T) {
	cnt := 100
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < cnt; i++ {
				val := strconv.Itoa(i)
				if err := s.Put(ctx, uint64(i), nil, &val); err != nil {
					t.Fatalf("Error putting a key/value: %v", err)
				}
				got, err := s.GetLast(ctx)
				if err != nil {
					t.Fatalf("Error getting a last element: %v", err)
				}
				if *got != val {
					t.Errorf("GetLast() = %q want %q", *got, val)
				}
			}
		})
		last := strconv.Itoa(cnt - 1)
		t.Run(name+"_update_entries", func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < cnt-1; i++ {
				prev := strconv.Itoa(i)
				newVal := strconv.Itoa(cnt + i)
				if err := s.Put(ctx, uint64(i), &prev, &newVal); err != nil {
					t.Fatalf("Error putting a key/value: %v, prev: %v, new: %v", err, prev, newVal)
				}
				got, err := s.GetLast(ctx)
				if err != nil {
					t.Fatalf("Error getting a last element: %v", err)
				}
				if *got != last {
					t.Errorf("GetLast() = %q want %q", *got, last)
				}
				gotCnt, err := s.Length(ctx)
				if err != nil {
					t.Fatalf("Length() unexpected error: %v", err)
				}
				if gotCnt != cnt {
					t.Errorf("Length() = %d want %d", gotCnt, cnt)
				}
			}
		})
	}
}

func TestGetLastAfterPrune(t *testing.T) {
	ctx := context.Background()
	for name, s := range initStorages(ctx, t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Prune(ctx, 20); err != nil {
				t.Fatalf("Prune(20) unexpected error: %v", err)
			}
			got, err := s.GetLast(ctx)
			if err != nil {
				t.Fatalf("GetLast() unexpected error: %v", err)
			}
			if got != nil {
				t.Errorf("GetLast() = %q want nil after full prune", *got)
			}
		})
	}
}

func TestPutRace(t *testing.T) {
	ctx := context.Background()
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			val, wrong, repl := "0", "not 0", "1"
			if err := s.Put(ctx, 0, nil, &val); err != nil {
				t.Fatalf("Put() unexpected error: %v", err)
			}
			if err := s.Put(ctx, 0, &wrong, &repl); !errors.Is(err, storage.ErrStorageRace) {
				t.Errorf("Put() with mismatched prev item = %v, want storage race", err)
			}
			if err := s.Put(ctx, 0, nil, &repl); !errors.Is(err, storage.ErrStorageRace) {
				t.Errorf("Put() with nil prev over existing item = %v, want storage race", err)
			}
			if err := s.Put(ctx, 1, &val, &repl); !errors.Is(err, storage.ErrStorageRace) {
				t.Errorf("Put() with prev item at empty index = %v, want storage race", err)
			}
			// The failed attempts must not have changed anything.
			got, err := s.GetContents(ctx, 0, 10)
			if err != nil {
				t.Fatalf("GetContents() unexpected error: %v", err)
			}
			if diff := cmp.Diff(strPtrs([]string{"0"}), got); diff != "" {
				t.Errorf("GetContents() unexpected diff:\n%s", diff)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		desc      string
		pruneFrom uint64
		want      []*string
	}{
		{
			desc:      "prune all elements",
			pruneFrom: 20,
		},
		{
			desc:      "prune all but one",
			pruneFrom: 19,
			want:      strPtrs([]string{"19"}),
		},
		{
			desc:      "pruning first element",
			pruneFrom: 1,
			want: strPtrs([]string{"1", "2", "3", "4", "5", "6", "7",
				"8", "9", "10", "11", "12", "13", "14", "15", "16", "17", "18", "19"}),
		},
		{
			desc:      "pruning first 11 elements",
			pruneFrom: 11,
			want:      strPtrs([]string{"11", "12", "13", "14", "15", "16", "17", "18", "19"}),
		},
		{
			desc:      "pruning from higher than biggest index",
			pruneFrom: 30,
			want:      strPtrs([]string{}),
		},
	} {
		// Storages must be re-initialized in each test-case.
		for name, s := range initStorages(ctx, t) {
			t.Run(name+"_"+tc.desc, func(t *testing.T) {
				if err := s.Prune(ctx, tc.pruneFrom); err != nil {
					t.Fatalf("Prune(%d) unexpected error: %v", tc.pruneFrom, err)
				}
				got, err := s.GetContents(ctx, 0, 20)
				if err != nil {
					t.Fatalf("GetContents() unexpected error: %v", err)
				}
				if diff := cmp.Diff(tc.want, got); diff != "" {
					t.Errorf("Prune(%d) unexpected diff:\n%s", tc.pruneFrom, diff)
				}
			})
		}
	}
}

func TestLength(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		desc      string
		pruneFrom uint64
	}{
		{
			desc: "not prune any elements",
		},
		{
			desc:      "prune all but one",
			pruneFrom: 19,
		},
		{
			desc:      "pruning first element",
			pruneFrom: 1,
		},
		{
			desc:      "pruning first 11 elements",
			pruneFrom: 11,
		},
		{
			desc:      "pruning from higher than biggest index",
			pruneFrom: 30,
		},
	} {
		// Storages must be re-initialized in each test-case.
		for name, s := range initStorages(ctx, t) {
			t.Run(name+"_"+tc.desc, func(t *testing.T) {
				if err := s.Prune(ctx, tc.pruneFrom); err != nil {
					t.Fatalf("Prune(%d) unexpected error: %v", tc.pruneFrom, err)
				}
				got, err := s.Length(ctx)
				if err != nil {
					t.Fatalf("Length() unexpected error: %v", err)
				}
				if want := arbmath.MaxInt(0, 20-int(tc.pruneFrom)); got != want {
					t.Errorf("Length() = %d want %d", got, want)
				}
			})
		}
	}
}

func TestRedisStorageTamperedEntry(t *testing.T) {
	ctx := context.Background()
	redisUrl := redisutil.CreateTestRedis(ctx, t)
	client, err := redisutil.RedisClientFromURL(redisUrl)
	if err != nil {
		t.Fatalf("RedisClientFromURL(%q) unexpected error: %v", redisUrl, err)
	}
	s, err := redis.NewStorage[string](client, "", &signature.TestSimpleHmacConfig)
	if err != nil {
		t.Fatalf("redis.NewStorage() unexpected error: %v", err)
	}
	val := "queued"
	if err := s.Put(ctx, 0, nil, &val); err != nil {
		t.Fatalf("Put() unexpected error: %v", err)
	}

	// Flip one payload byte behind the storage's back.
	members, err := client.ZRange(ctx, "submitter.queue", 0, -1).Result()
	if err != nil {
		t.Fatalf("ZRange() unexpected error: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("ZRange() returned %d members, want 1", len(members))
	}
	tampered := []byte(members[0])
	tampered[len(tampered)-1] ^= 0xff
	if err := client.ZRem(ctx, "submitter.queue", members[0]).Err(); err != nil {
		t.Fatalf("ZRem() unexpected error: %v", err)
	}
	if err := client.ZAdd(ctx, "submitter.queue", goredis.Z{Score: 0, Member: string(tampered)}).Err(); err != nil {
		t.Fatalf("ZAdd() unexpected error: %v", err)
	}

	if _, err := s.GetLast(ctx); !errors.Is(err, signature.ErrSignatureNotVerified) {
		t.Errorf("GetLast() on tampered entry = %v, want signature verification failure", err)
	}
	if _, err := s.GetContents(ctx, 0, 10); !errors.Is(err, signature.ErrSignatureNotVerified) {
		t.Errorf("GetContents() on tampered entry = %v, want signature verification failure", err)
	}
	repl := "replacement"
	if err := s.Put(ctx, 0, &val, &repl); !errors.Is(err, signature.ErrSignatureNotVerified) {
		t.Errorf("Put() over tampered entry = %v, want signature verification failure", err)
	}
}

func TestRedisStorageWrongKeyRejected(t *testing.T) {
	ctx := context.Background()
	redisUrl := redisutil.CreateTestRedis(ctx, t)
	client, err := redisutil.RedisClientFromURL(redisUrl)
	if err != nil {
		t.Fatalf("RedisClientFromURL(%q) unexpected error: %v", redisUrl, err)
	}
	writer, err := redis.NewStorage[string](client, "", &signature.TestSimpleHmacConfig)
	if err != nil {
		t.Fatalf("redis.NewStorage() unexpected error: %v", err)
	}
	val := "queued"
	if err := writer.Put(ctx, 0, nil, &val); err != nil {
		t.Fatalf("Put() unexpected error: %v", err)
	}

	// A storage keyed differently must refuse entries the writer signed.
	reader, err := redis.NewStorage[string](client, "", &signature.SimpleHmacConfig{
		SigningKey: "2e106cb5a7e06e74f3b0d4e23cbef659c9a87ab01e0f52f5b6f3aa1b2ea9433f",
	})
	if err != nil {
		t.Fatalf("redis.NewStorage() unexpected error: %v", err)
	}
	if _, err := reader.GetLast(ctx); !errors.Is(err, signature.ErrSignatureNotVerified) {
		t.Errorf("GetLast() with the wrong key = %v, want signature verification failure", err)
	}
}
