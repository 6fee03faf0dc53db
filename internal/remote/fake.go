package remote

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/foldersync/agent/internal/agenterr"
)

type fakeObject struct {
	data       []byte
	hash       string
	modifiedAt time.Time
}

// Fake is an in-memory Client used by integration-style tests: it stands in
// for a real remote server so reconciliation scenarios can be driven
// deterministically without a network.
type Fake struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	changes []Change

	// FailUploadsUntil, when > 0, makes the next N Upload calls for any
	// path fail with a transient error before succeeding.
	FailUploadsUntil int
	uploadAttempts   int

	authenticated bool
}

func NewFake() *Fake {
	return &Fake{objects: make(map[string]*fakeObject)}
}

func (f *Fake) Authenticate(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authenticated = true
	return "fake-token", nil
}

func (f *Fake) SetToken(_ string) {}

// Put seeds an object directly, as if some other client had written it.
func (f *Fake) Put(remotePath string, data []byte, hash string, modifiedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[remotePath] = &fakeObject{data: data, hash: hash, modifiedAt: modifiedAt}
	f.changes = append(f.changes, Change{
		RelativePath: remotePath,
		Type:         Modified,
		Size:         int64(len(data)),
		Hash:         hash,
		ModifiedAt:   modifiedAt,
	})
}

// Changes returns a snapshot of every change recorded so far, in order;
// tests use its length to assert that a reconciliation pass did or did not
// perform any remote mutation.
func (f *Fake) Changes() []Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Change, len(f.changes))
	copy(out, f.changes)
	return out
}

func (f *Fake) Remove(remotePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, remotePath)
	f.changes = append(f.changes, Change{RelativePath: remotePath, Type: Deleted, ModifiedAt: time.Now().UTC()})
}

func (f *Fake) Get(remotePath string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[remotePath]
	if !ok {
		return nil, false
	}
	return obj.data, true
}

func (f *Fake) ChangesSince(_ context.Context, remotePath string, since time.Time) ([]Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Change
	for _, c := range f.changes {
		if !withinPrefix(c.RelativePath, remotePath) {
			continue
		}
		if c.ModifiedAt.Before(since) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *Fake) ListDirectory(_ context.Context, remotePath string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Entry
	for path, obj := range f.objects {
		if !withinPrefix(path, remotePath) {
			continue
		}
		out = append(out, Entry{RelativePath: path, Size: int64(len(obj.data)), Hash: obj.hash, ModifiedAt: obj.modifiedAt})
	}
	return out, nil
}

func (f *Fake) Upload(_ context.Context, remotePath string, r io.Reader, _ int64) error {
	f.mu.Lock()
	if f.uploadAttempts < f.FailUploadsUntil {
		f.uploadAttempts++
		f.mu.Unlock()
		return agenterr.New(agenterr.NetworkTransient, "fake: injected transient upload failure")
	}
	f.mu.Unlock()

	buf, err := io.ReadAll(r)
	if err != nil {
		return agenterr.Wrap(agenterr.IOError, "fake upload read", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[remotePath] = &fakeObject{data: buf, modifiedAt: time.Now().UTC()}
	f.changes = append(f.changes, Change{RelativePath: remotePath, Type: Modified, Size: int64(len(buf)), ModifiedAt: time.Now().UTC()})
	return nil
}

func (f *Fake) Download(_ context.Context, remotePath string, w io.Writer) error {
	f.mu.Lock()
	obj, ok := f.objects[remotePath]
	f.mu.Unlock()
	if !ok {
		return agenterr.New(agenterr.NotFound, "fake: no such object: "+remotePath)
	}
	_, err := io.Copy(w, bytes.NewReader(obj.data))
	return err
}

func (f *Fake) Delete(_ context.Context, remotePath string) error {
	f.Remove(remotePath)
	return nil
}

func (f *Fake) Permissions(_ context.Context, remotePath string) (Permission, error) {
	return Permission{RelativePath: remotePath, Read: true, Write: true}, nil
}

func withinPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}
