// Package keyhierarchy implements the three-level key graph described by
// the vault: a user passphrase that is never stored, a per-device master key
// derived from it, and a per-device random encryption key sealed under that
// master key. It also holds the process-wide cache of unlocked device keys.
package keyhierarchy

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/klpod221/kerminal/lib/cryptoutil"
)

// Cache maps device_id to the device encryption key for every device the
// current process has successfully unlocked. It is guarded by a read-write
// lock: lookups take the read side, insertion and wipes take the write side.
//
// This mirrors the teacher's SSH agent keyring: a mutex-guarded map with a
// locked flag, constant-time passphrase comparisons, and an explicit wipe
// path, generalized here from "one passphrase, many signing keys" to "many
// devices, one key each".
type Cache struct {
	mu      sync.RWMutex
	locked  bool
	entries map[string][cryptoutil.KeySize]byte
	log     logrus.FieldLogger
}

// NewCache returns an empty, unlocked key cache.
func NewCache(log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{
		entries: make(map[string][cryptoutil.KeySize]byte),
		log:     log.WithField(trace.Component, "keyhierarchy"),
	}
}

// Get returns the device encryption key for deviceID, if present and the
// cache is not locked.
func (c *Cache) Get(deviceID string) ([cryptoutil.KeySize]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero [cryptoutil.KeySize]byte
	if c.locked {
		return zero, false
	}
	key, ok := c.entries[deviceID]
	return key, ok
}

// Insert adds or replaces the device encryption key for deviceID. It fails
// if the cache is currently locked; callers must Unlock first.
func (c *Cache) Insert(deviceID string, key [cryptoutil.KeySize]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locked {
		return trace.Wrap(ErrLocked)
	}
	c.entries[deviceID] = key
	return nil
}

// Lock wipes every entry from the cache and marks it locked. Subsequent
// Get calls return not-found until Unlock is called.
func (c *Cache) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipeLocked()
	c.locked = true
}

// Unlock clears the locked flag so Insert/Get resume working. It does not
// repopulate any entries; callers re-derive and Insert keys as needed.
func (c *Cache) Unlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
}

// Locked reports whether the cache currently rejects reads and writes.
func (c *Cache) Locked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locked
}

func (c *Cache) wipeLocked() {
	for id, key := range c.entries {
		k := key
		cryptoutil.ZeroBytes(k[:])
		delete(c.entries, id)
	}
}

// GenerateDeviceKey returns 32 fresh random bytes for use as a new device's
// encryption key.
func GenerateDeviceKey() ([cryptoutil.KeySize]byte, error) {
	var key [cryptoutil.KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, trace.Wrap(err, "generating device encryption key")
	}
	return key, nil
}

// GenerateSalt returns n fresh random bytes suitable for use as a KDF salt.
// n must be at least 16 per the spec's minimum salt size.
func GenerateSalt(n int) ([]byte, error) {
	if n < 16 {
		return nil, trace.BadParameter("salt size %d is below the minimum of 16 bytes", n)
	}
	salt := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, trace.Wrap(err, "generating salt")
	}
	return salt, nil
}

// ConstantTimeEqual compares two verification tags without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
