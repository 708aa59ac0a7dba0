// Package cache persists a resolved schema tree on disk, keyed by the set
// of input YANG/SID files and their modification times, avoiding a full
// schema rebuild on every run.
package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/hwkim3330/velocitydrivesp-support/internal/logging"
	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

// Cache resolves and stores built schema trees under dir, one file per key.
type Cache struct {
	Dir string
}

func New(dir string) *Cache { return &Cache{Dir: dir} }

// Key hashes the sorted input paths together with their modification
// times; any change to the file set or any single mtime changes the key.
func Key(inputs []string) (string, error) {
	sorted := append([]string(nil), inputs...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, p := range sorted {
		info, err := os.Stat(p)
		if err != nil {
			return "", errors.Wrapf(err, "cache: stat %s", p)
		}
		fmt.Fprintf(h, "%s|%d|%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+".schema.gob")
}

// Load returns the cached tree for key, or (nil, nil) on a cache miss.
func (c *Cache) Load(key string) (*yang.Tree, error) {
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "cache: open")
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		logging.Warnf("yang cache: corrupt entry %s, discarding: %v", key, err)
		return nil, nil
	}
	return yang.FromNodes(snap.Nodes, snap.RootID), nil
}

// snapshot is the on-disk shape of a cached tree: gob requires exported
// fields, so this mirrors yang.Tree's arena rather than encoding it directly.
type snapshot struct {
	Nodes  []*yang.Node
	RootID int
}

func fromTree(t *yang.Tree) snapshot {
	return snapshot{Nodes: t.AllNodes(), RootID: t.RootID()}
}

// Store persists tree under key, creating the cache directory if needed.
func (c *Cache) Store(key string, tree *yang.Tree) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return errors.Wrap(err, "cache: mkdir")
	}
	tmp := c.pathFor(key) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "cache: create")
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(fromTree(tree)); err != nil {
		return errors.Wrap(err, "cache: encode")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "cache: close")
	}
	return os.Rename(tmp, c.pathFor(key))
}

// Purge removes every entry in the cache directory, used when the input
// key set changes in a way Load/Store can't detect on their own (e.g. an
// operator manually edits a YANG file without touching its mtime).
func (c *Cache) Purge() error {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.Dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
