package storage

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestObjectStore(t *testing.T) *ObjectStore {
	t.Helper()

	store, err := NewObjectStore(t.TempDir(), []byte("0123456789abcdef"), "/objects")
	if err != nil {
		t.Fatalf("NewObjectStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestObjectStorePutGetDelete(t *testing.T) {
	store := newTestObjectStore(t)

	data := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	if err := store.Put("photos/r1/a.jpg", "image/jpeg", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	object, err := store.Get("photos/r1/a.jpg")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(object.Data) != string(data) || object.ContentType != "image/jpeg" {
		t.Errorf("Unexpected object %+v", object)
	}

	if err := store.Delete("photos/r1/a.jpg"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("photos/r1/a.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete("photos/r1/a.jpg"); err != nil {
		t.Errorf("Deleting a missing key should succeed, got %v", err)
	}
}

func TestObjectStorePutRequiresKey(t *testing.T) {
	store := newTestObjectStore(t)

	if err := store.Put("", "image/png", []byte("x")); err == nil {
		t.Error("Expected error for empty key")
	}
}

// parseSignedURL splits a URL produced by SignedURL
func parseSignedURL(t *testing.T, signed string) (string, int64, string) {
	t.Helper()

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("Invalid signed URL %q: %v", signed, err)
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil {
		t.Fatalf("Invalid expires in %q: %v", signed, err)
	}
	return strings.TrimPrefix(u.Path, "/objects/"), expires, u.Query().Get("sig")
}

func TestSignedURL(t *testing.T) {
	store := newTestObjectStore(t)
	now := time.Unix(1700000000, 0)

	signed := store.SignedURL("photos/r1/a.jpg", 15*time.Minute, now)
	if !strings.HasPrefix(signed, "/objects/photos/r1/a.jpg?") {
		t.Fatalf("Unexpected signed URL %q", signed)
	}

	key, expires, sig := parseSignedURL(t, signed)
	if expires != now.Add(15*time.Minute).Unix() {
		t.Errorf("Unexpected expiry %d", expires)
	}

	tests := []struct {
		name    string
		key     string
		expires int64
		sig     string
		now     time.Time
		wantErr error
	}{
		{"valid", key, expires, sig, now.Add(time.Minute), nil},
		{"valid at expiry", key, expires, sig, time.Unix(expires, 0), nil},
		{"expired", key, expires, sig, now.Add(16 * time.Minute), ErrURLExpired},
		{"other key", "photos/r1/b.jpg", expires, sig, now, ErrInvalidSignature},
		{"extended expiry", key, expires + 3600, sig, now, ErrInvalidSignature},
		{"garbage signature", key, expires, "not-hex", now, ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.VerifySignature(tt.key, tt.expires, tt.sig, tt.now)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifySignature() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignedURLDependsOnKey(t *testing.T) {
	now := time.Unix(1700000000, 0)

	a, err := NewObjectStore(t.TempDir(), []byte("key-a-0123456789"), "/objects")
	if err != nil {
		t.Fatalf("NewObjectStore failed: %v", err)
	}
	defer a.Close()

	b, err := NewObjectStore(t.TempDir(), []byte("key-b-0123456789"), "/objects")
	if err != nil {
		t.Fatalf("NewObjectStore failed: %v", err)
	}
	defer b.Close()

	key, expires, sig := parseSignedURL(t, a.SignedURL("audio/x.wav", time.Hour, now))
	if err := b.VerifySignature(key, expires, sig, now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected signature from another key to be rejected, got %v", err)
	}
}
