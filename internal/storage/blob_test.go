package storage

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	s := NewLocalStore(t.TempDir())

	stored, err := s.Store(7, "report.xlsx", strings.NewReader("cells"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !strings.HasSuffix(stored.StoredName, ".xlsx") {
		t.Fatalf("stored name %q should keep the extension", stored.StoredName)
	}
	if strings.Contains(stored.StoredName, "report") {
		t.Fatalf("stored name %q must not leak the original name", stored.StoredName)
	}

	rc, err := s.Open(stored.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "cells" {
		t.Fatalf("content = %q; want %q", b, "cells")
	}
}

func TestLocalStore_Remove(t *testing.T) {
	s := NewLocalStore(t.TempDir())

	stored, err := s.Store(7, "tmp.bin", strings.NewReader("bytes"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Remove(stored.Key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Open(stored.Key); err == nil {
		t.Fatalf("Open after Remove should fail")
	}
}

func TestLocalStore_DateShardedPath(t *testing.T) {
	base := t.TempDir()
	s := NewLocalStore(base)

	stored, err := s.Store(7, "a.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	now := time.Now().UTC()
	wantDir := filepath.Join(base, "7",
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
	)
	if filepath.Dir(stored.Key) != wantDir {
		t.Fatalf("key dir = %q; want %q", filepath.Dir(stored.Key), wantDir)
	}
}

func TestLocalStore_DistinctNamesForSameFile(t *testing.T) {
	s := NewLocalStore(t.TempDir())

	a, err := s.Store(1, "dup.png", strings.NewReader("1"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	b, err := s.Store(1, "dup.png", strings.NewReader("2"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if a.StoredName == b.StoredName || a.Key == b.Key {
		t.Fatalf("same original name produced colliding keys: %+v, %+v", a, b)
	}
}

func TestLocalStore_OpenMissingKey(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	if _, err := s.Open(filepath.Join(s.Base, "nope")); err == nil {
		t.Fatalf("Open of unknown key should fail")
	}
}
