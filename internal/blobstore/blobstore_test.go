package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

func TestCreateThenOpenRoundTrips(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := s.NewPath()
	w, err := s.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("want %q, got %q", "hello world", got)
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Open("aa/bb/missing")
	if emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestOpenRangeReadsSubset(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := s.NewPath()
	w, _ := s.Create(path)
	w.Write([]byte("0123456789"))
	w.Close()

	r, err := s.OpenRange(path, 3, 4)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer r.Close()
	got, _ := io.ReadAll(r)
	if string(got) != "3456" {
		t.Fatalf("want %q, got %q", "3456", got)
	}
}

func TestGCRemovesOnlyDeadFiles(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	live := s.NewPath()
	dead := s.NewPath()
	for _, p := range []string{live, dead} {
		w, _ := s.Create(p)
		w.Write([]byte("x"))
		w.Close()
	}

	removed, err := s.GC(context.Background(), map[string]bool{live: true})
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if removed != 1 {
		t.Fatalf("want 1 removed, got %d", removed)
	}
	if _, err := s.Stat(live); err != nil {
		t.Fatalf("live blob was removed: %v", err)
	}
	if _, err := s.Stat(dead); emuerr.KindOf(err) != emuerr.NotFound {
		t.Fatalf("dead blob was not removed")
	}
}
