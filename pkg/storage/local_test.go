package storage

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStorageReadWrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	if err := s.Write(ctx, "tasks/abc.yaml", []byte("title: hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := s.Read(ctx, "tasks/abc.yaml")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "title: hello" {
		t.Errorf("Read() = %q", data)
	}

	ok, err := s.Exists(ctx, "tasks/abc.yaml")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
	ok, err = s.Exists(ctx, "tasks/missing.yaml")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v, want false", ok, err)
	}
}

func TestLocalStorageReadNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	if _, err := s.Read(ctx, "tasks/nope.yaml"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "tasks/nope.yaml"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLocalStorageList(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	if paths, err := s.List(ctx, "tasks"); err != nil || len(paths) != 0 {
		t.Fatalf("List(empty) = %v, %v", paths, err)
	}

	for _, p := range []string{"tasks/a.yaml", "tasks/b.yaml", "users/u.yaml"} {
		if err := s.Write(ctx, p, []byte("x: 1")); err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
	}

	paths, err := s.List(ctx, "tasks")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("List() = %v, want 2 entries", paths)
	}
	for _, p := range paths {
		if p != "tasks/a.yaml" && p != "tasks/b.yaml" {
			t.Errorf("List() unexpected path %q", p)
		}
	}
}

func TestLocalStorageDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	if err := s.Write(ctx, "tasks/doomed.yaml", []byte("x: 1")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Delete(ctx, "tasks/doomed.yaml"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Read(ctx, "tasks/doomed.yaml"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read(deleted) error = %v, want ErrNotFound", err)
	}
}
