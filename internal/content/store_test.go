package content_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inertiavault/internal/content"
	"inertiavault/internal/destination"
	"inertiavault/internal/encryption"
	"inertiavault/internal/iv"
	"inertiavault/internal/testutil"
)

type fixture struct {
	store *content.Store
	dest  *destination.MemoryDestination
	db    iv.BlockLedger
}

func newFixture(t *testing.T, opts iv.EncodeOptions) *fixture {
	t.Helper()
	dest := testutil.NewTestDestination("mem")
	db := testutil.NewTestDatabase(t)
	store, err := content.NewStore(dest, db, testutil.NewTestEncryptor(), opts, testutil.FixedClock(), iv.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return &fixture{store: store, dest: dest, db: db}
}

func (f *fixture) refCount(t *testing.T, hash string) int64 {
	t.Helper()
	b, err := f.db.FindBlock("mem", hash)
	if err != nil {
		t.Fatalf("FindBlock() error = %v", err)
	}
	if b == nil {
		return -1
	}
	return b.RefCount
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":      {},
		"small":      []byte("hello"),
		"repetitive": bytes.Repeat([]byte("inertia "), 4096),
	}
	modes := map[string]iv.EncodeOptions{
		"plain":              {},
		"compressed":         {Compress: true},
		"encrypted":          {Encrypt: true},
		"compressed+encrypt": {Compress: true, Encrypt: true},
	}

	ctx := context.Background()
	for modeName, opts := range modes {
		for inputName, data := range inputs {
			t.Run(modeName+"/"+inputName, func(t *testing.T) {
				f := newFixture(t, opts)
				f.store.SetDecryption(encryption.TestDecryptionContext{})

				hash, err := f.store.Put(ctx, data)
				if err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				if hash != testutil.SHA256Hex(data) {
					t.Errorf("Put() hash = %s, want sha256 of data", hash)
				}

				got, err := f.store.Get(ctx, hash)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if !bytes.Equal(got, data) {
					t.Errorf("Get() returned %d bytes, want %d", len(got), len(data))
				}
				if err := f.store.Verify(ctx, hash); err != nil {
					t.Errorf("Verify() error = %v", err)
				}
			})
		}
	}
}

func TestStore_PayloadIsTransformed(t *testing.T) {
	ctx := context.Background()
	data := bytes.Repeat([]byte("a"), 10000)

	f := newFixture(t, iv.EncodeOptions{Compress: true})
	hash, err := f.store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	payload, err := f.dest.Read(ctx, hash)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !strings.HasPrefix(string(payload), "IV") {
		t.Errorf("payload does not start with the block header: %q", payload[:4])
	}
	if len(payload) >= len(data) {
		t.Errorf("compressed payload is %d bytes, raw is %d", len(payload), len(data))
	}
}

func TestStore_PutDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, iv.EncodeOptions{})

	first, err := f.store.Put(ctx, []byte("same"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second, err := f.store.Put(ctx, []byte("same"))
	if err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	if first != second {
		t.Errorf("Put() ids differ: %s vs %s", first, second)
	}
	if f.dest.Len() != 1 {
		t.Errorf("destination holds %d blocks, want 1", f.dest.Len())
	}
	if got := f.refCount(t, first); got != 2 {
		t.Errorf("ref count = %d, want 2", got)
	}

	if err := f.store.Release(ctx, first); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := f.refCount(t, first); got != 1 {
		t.Errorf("ref count after Release() = %d, want 1", got)
	}
}

func TestStore_GetUnknownBlock(t *testing.T) {
	f := newFixture(t, iv.EncodeOptions{})
	_, err := f.store.Get(context.Background(), testutil.SHA256Hex([]byte("never stored")))
	if !errors.Is(err, iv.ErrNotFound) {
		t.Errorf("Get() = %v, want ErrNotFound", err)
	}
	if ok, err := f.store.Exists(context.Background(), testutil.SHA256Hex([]byte("never stored"))); ok || err != nil {
		t.Errorf("Exists() = %v, %v; want false", ok, err)
	}
}

func TestStore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, iv.EncodeOptions{Compress: true})

	hash, err := f.store.Put(ctx, []byte("precious data"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !f.dest.Corrupt(hash) {
		t.Fatal("Corrupt() = false")
	}

	if _, err := f.store.Get(ctx, hash); !errors.Is(err, iv.ErrIntegrity) {
		t.Errorf("Get() = %v, want ErrIntegrity", err)
	}
	if err := f.store.Verify(ctx, hash); !errors.Is(err, iv.ErrIntegrity) {
		t.Errorf("Verify() = %v, want ErrIntegrity", err)
	}
}

func TestStore_EncryptedWithoutKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, iv.EncodeOptions{Encrypt: true})

	hash, err := f.store.Put(ctx, []byte("secret"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := f.store.Get(ctx, hash); !errors.Is(err, iv.ErrConfiguration) {
		t.Errorf("Get() without key = %v, want ErrConfiguration", err)
	}
	// Verification falls back to the payload digest.
	if err := f.store.Verify(ctx, hash); err != nil {
		t.Errorf("Verify() without key = %v, want nil", err)
	}
}

func TestStore_EncryptWithoutKeys(t *testing.T) {
	dest := testutil.NewTestDestination("mem")
	db := testutil.NewTestDatabase(t)
	enc := &encryption.TestEncryptor{}
	store, err := content.NewStore(dest, db, enc, iv.EncodeOptions{}, testutil.FixedClock(), iv.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := store.Encode([]byte("x"), iv.EncodeOptions{Encrypt: true}); !errors.Is(err, iv.ErrConfiguration) {
		t.Errorf("Encode() = %v, want ErrConfiguration", err)
	}
}

func TestStore_UploadRejectsRawBytes(t *testing.T) {
	f := newFixture(t, iv.EncodeOptions{})
	data := []byte("not encoded")
	err := f.store.Upload(context.Background(), testutil.SHA256Hex(data), int64(len(data)), data)
	if !errors.Is(err, iv.ErrIntegrity) {
		t.Errorf("Upload() = %v, want ErrIntegrity", err)
	}
}

func TestStore_Collect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, iv.EncodeOptions{})

	keep, err := f.store.Put(ctx, []byte("keep"))
	if err != nil {
		t.Fatal(err)
	}
	drop, err := f.store.Put(ctx, []byte("drop"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Release(ctx, drop); err != nil {
		t.Fatal(err)
	}
	orphan := testutil.SHA256Hex([]byte("orphan"))
	if err := f.dest.Write(ctx, orphan, []byte("left by a crashed run")); err != nil {
		t.Fatal(err)
	}

	res, err := f.store.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if res.Blocks != 1 || res.Orphans != 1 {
		t.Errorf("Collect() = %+v, want 1 block and 1 orphan", res)
	}
	if f.dest.Len() != 1 {
		t.Errorf("destination holds %d blocks, want 1", f.dest.Len())
	}
	if got := f.refCount(t, drop); got != -1 {
		t.Errorf("dropped block still in ledger with ref count %d", got)
	}
	if got, err := f.store.Get(ctx, keep); err != nil || string(got) != "keep" {
		t.Errorf("Get(keep) = %q, %v", got, err)
	}
}

// gatedDestination holds the first Write after its bytes land until release
// is closed.
type gatedDestination struct {
	iv.Destination
	once    sync.Once
	writes  atomic.Int32
	wrote   chan struct{}
	release chan struct{}
}

func (d *gatedDestination) Write(ctx context.Context, blockID string, data []byte) error {
	if err := d.Destination.Write(ctx, blockID, data); err != nil {
		return err
	}
	d.writes.Add(1)
	d.once.Do(func() {
		close(d.wrote)
		<-d.release
	})
	return nil
}

func TestStore_ConcurrentUploadsOfOneBlock(t *testing.T) {
	ctx := context.Background()
	dest := &gatedDestination{
		Destination: testutil.NewTestDestination("mem"),
		wrote:       make(chan struct{}),
		release:     make(chan struct{}),
	}
	db := testutil.NewTestDatabase(t)
	store, err := content.NewStore(dest, db, nil, iv.EncodeOptions{}, testutil.FixedClock(), iv.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	data := bytes.Repeat([]byte("same block "), 64)
	hash := testutil.SHA256Hex(data)
	compressed, err := store.Encode(data, iv.EncodeOptions{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	plain, err := store.Encode(data, iv.EncodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(compressed, plain) {
		t.Fatal("payloads should differ")
	}

	errs := make(chan error, 2)
	go func() { errs <- store.Upload(ctx, hash, int64(len(data)), compressed) }()
	<-dest.wrote
	go func() { errs <- store.Upload(ctx, hash, int64(len(data)), plain) }()
	time.Sleep(20 * time.Millisecond)
	close(dest.release)

	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
	}

	if err := store.Verify(ctx, hash); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	got, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Get() returned %d bytes, want %d", len(got), len(data))
	}
	block, err := db.FindBlock("mem", hash)
	if err != nil || block == nil {
		t.Fatalf("FindBlock() = %v, %v", block, err)
	}
	if block.RefCount != 2 {
		t.Errorf("ref count = %d, want 2", block.RefCount)
	}
	if block.StoredDigest != content.Hash(compressed) {
		t.Error("ledger digest does not match the first payload written")
	}
	if n := dest.writes.Load(); n != 1 {
		t.Errorf("destination received %d writes, want 1", n)
	}
}
