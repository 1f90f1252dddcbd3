package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// Signed URL verification errors.
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrURLExpired       = errors.New("signed URL expired")
)

const (
	dataPrefix = "data/"
	typePrefix = "type/"
)

// Object is a stored binary blob
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// ObjectStore keeps photos and audio in Badger and signs URLs to them
type ObjectStore struct {
	db         *badger.DB
	signingKey []byte
	urlPrefix  string
}

// NewObjectStore opens the Badger directory at path. Signed URLs are rooted at
// urlPrefix, e.g. "/objects".
func NewObjectStore(path string, signingKey []byte, urlPrefix string) (*ObjectStore, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("signing key cannot be empty")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &ObjectStore{db: db, signingKey: signingKey, urlPrefix: urlPrefix}, nil
}

// Put stores data under key, replacing any previous object
func (s *ObjectStore) Put(key, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(dataPrefix+key), data); err != nil {
			return err
		}
		return txn.Set([]byte(typePrefix+key), []byte(contentType))
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}

	return nil
}

// Get returns the object stored under key
func (s *ObjectStore) Get(key string) (*Object, error) {
	object := &Object{Key: key}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(dataPrefix + key))
		if err != nil {
			return err
		}
		if object.Data, err = item.ValueCopy(nil); err != nil {
			return err
		}

		item, err = txn.Get([]byte(typePrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			object.ContentType = string(val)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	return object, nil
}

// Delete removes the object stored under key. Deleting a missing key is not an error.
func (s *ObjectStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(dataPrefix + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(typePrefix + key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	return nil
}

// SignedURL returns a relative URL granting read access to key until now+ttl
func (s *ObjectStore) SignedURL(key string, ttl time.Duration, now time.Time) string {
	expires := now.Add(ttl).Unix()

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("sig", s.sign(key, expires))

	return s.urlPrefix + "/" + key + "?" + query.Encode()
}

// VerifySignature checks a signature produced by SignedURL
func (s *ObjectStore) VerifySignature(key string, expires int64, sig string, now time.Time) error {
	expected, err := hex.DecodeString(s.sign(key, expires))
	if err != nil {
		return err
	}

	provided, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(expected, provided) {
		return ErrInvalidSignature
	}

	if now.Unix() > expires {
		return ErrURLExpired
	}

	return nil
}

func (s *ObjectStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Close closes the Badger database
func (s *ObjectStore) Close() error {
	return s.db.Close()
}
