package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hwkim3330/velocitydrivesp-support/internal/yang"
)

func TestKeyChangesWithMtime(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.sid")
	if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	k1, err := Key([]string{p})
	if err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	later := info.ModTime().Add(time.Second)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatal(err)
	}

	k2, err := Key([]string{p})
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Fatal("expected key to change after mtime change")
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New(dir)

	tr := yang.NewTree()
	rootID := tr.AddNode(-1, &yang.Node{Keyword: yang.KwModule, Arg: "m"})
	tr.AddNode(rootID, &yang.Node{Keyword: yang.KwLeaf, Arg: "x", HasSID: true, SID: 42, Type: &yang.Type{Name: "string"}})

	if err := c.Store("k1", tr); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := c.Load("k1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a cache hit")
	}
	n, _ := loaded.FindBySID(42)
	if n == nil || n.Arg != "x" {
		t.Fatalf("expected to recover leaf x by sid, got %+v", n)
	}
}

func TestLoadMiss(t *testing.T) {
	c := New(t.TempDir())
	tr, err := c.Load("nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tr != nil {
		t.Fatal("expected a nil tree on cache miss")
	}
}
