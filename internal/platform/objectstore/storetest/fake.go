// Package storetest provides an in-memory objectstore.Store for tests.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/feedloader/internal/platform/objectstore"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// FakeStore keeps objects in memory, keyed by bucket/key. The zero value is
// not usable; call New.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string]object

	// FailList, when set, makes List return the error for that bucket.
	FailList map[string]error
}

func New() *FakeStore {
	return &FakeStore{
		objects:  make(map[string]object),
		FailList: make(map[string]error),
	}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

func (s *FakeStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return objectstore.ObjectInfo{}, objectstore.ErrNotExist
	}
	return objectstore.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

func (s *FakeStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, key)] = object{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

func (s *FakeStore) PutIfAbsent(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[objectKey(bucket, key)]; ok {
		return objectstore.ErrExists
	}
	s.objects[objectKey(bucket, key)] = object{data: data, contentType: contentType, modified: time.Now()}
	return nil
}

func (s *FakeStore) Remove(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey(bucket, key))
	return nil
}

func (s *FakeStore) Copy(ctx context.Context, dstBucket, dstKey, srcBucket, srcKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.objects[objectKey(srcBucket, srcKey)]
	if !ok {
		return fmt.Errorf("copy source missing: %s/%s", srcBucket, srcKey)
	}
	s.objects[objectKey(dstBucket, dstKey)] = object{
		data:        bytes.Clone(src.data),
		contentType: src.contentType,
		modified:    time.Now(),
	}
	return nil
}

func (s *FakeStore) List(ctx context.Context, bucket string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailList[bucket]; err != nil {
		return nil, err
	}
	var names []string
	prefix := bucket + "/"
	for k := range s.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			names = append(names, k[len(prefix):])
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether the object is present, for test assertions.
func (s *FakeStore) Exists(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectKey(bucket, key)]
	return ok
}

// Content returns the stored payload, for test assertions.
func (s *FakeStore) Content(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}
