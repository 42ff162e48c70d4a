package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestDirStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = d.Get(ctx, "snapshot.json")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Put(ctx, "snapshot.json", []byte(`{"a":1}`)))
	require.NoError(t, d.Put(ctx, "snapshot.json", []byte(`{"a":2}`)))
	got, err := d.Get(ctx, "snapshot.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2}`, string(got))

	// Keys cannot escape the root.
	require.NoError(t, d.Put(ctx, "../../outside.json", []byte(`{}`)))
	got, err = d.Get(ctx, "outside.json")
	require.NoError(t, err)
	require.Equal(t, "{}", string(got))
}

// fakeS3 is an in-memory S3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	puts    []*s3.PutObjectInput
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := NewS3StoreWithClient(fake, "bucket", "dashboards/prod")

	_, err := s.Get(ctx, "snapshot.json")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "snapshot.json", []byte(`{"ok":true}`)))
	require.Contains(t, fake.objects, "dashboards/prod/snapshot.json")
	require.Equal(t, "no-store", aws.ToString(fake.puts[0].CacheControl))

	got, err := s.Get(ctx, "snapshot.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(got))

	fake.getErr = errors.New("connection reset")
	_, err = s.Get(ctx, "snapshot.json")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresStore(sqlx.NewDb(db, "postgres"))

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS funnel_blobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.EnsureSchema(ctx))

	mock.ExpectQuery(regexp.QuoteMeta(pgGet)).WithArgs("snapshot.json").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	_, err = s.Get(ctx, "snapshot.json")
	require.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec(regexp.QuoteMeta(pgPut)).WithArgs("snapshot.json", []byte(`{"v":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Put(ctx, "snapshot.json", []byte(`{"v":1}`)))

	mock.ExpectQuery(regexp.QuoteMeta(pgGet)).WithArgs("snapshot.json").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow([]byte(`{"v":1}`)))
	got, err := s.Get(ctx, "snapshot.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(got))

	require.NoError(t, mock.ExpectationsWereMet())
}

// countingStore wraps a Store and counts backend reads.
type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	dir, err := NewDirStore(t.TempDir())
	require.NoError(t, err)
	backing := &countingStore{Store: dir}
	c := NewCachedStore(backing, rdb, time.Minute, "")

	_, err = c.Get(ctx, "snapshot.json")
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, mr.Exists("funnelsnap:blob:snapshot.json"), "misses are not cached")

	require.NoError(t, c.Put(ctx, "snapshot.json", []byte(`{"n":1}`)))
	require.True(t, mr.Exists("funnelsnap:blob:snapshot.json"))

	got, err := c.Get(ctx, "snapshot.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(got))
	require.Equal(t, 1, backing.gets, "hit served from redis")

	mr.FlushAll()
	got, err = c.Get(ctx, "snapshot.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(got))
	require.Equal(t, 2, backing.gets)
	require.True(t, mr.Exists("funnelsnap:blob:snapshot.json"), "read-through refills")

	// Redis down: reads fall back to the backing store.
	mr.Close()
	got, err = c.Get(ctx, "snapshot.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(got))
}
