package state

import (
	"context"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileStateRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	fs := FileState{
		Path:        "pkg/a.go",
		Size:        1234,
		MtimeUnix:   1700000000,
		ContentHash: "abc",
		ChunkHashes: []string{"c1", "c2"},
		IndexedAt:   1700000100,
	}
	if err := s.SaveFile(ctx, "main", fs); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}

	files, err := s.LoadFiles(ctx, "main")
	if err != nil {
		t.Fatalf("LoadFiles() error = %v", err)
	}
	got, ok := files["pkg/a.go"]
	if !ok {
		t.Fatal("saved file not found")
	}
	if got.Size != fs.Size || got.ContentHash != fs.ContentHash || len(got.ChunkHashes) != 2 {
		t.Errorf("LoadFiles() = %+v, want %+v", got, fs)
	}

	// Other branches see nothing.
	other, err := s.LoadFiles(ctx, "feature")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("feature branch has %d files, want 0", len(other))
	}
}

func TestSaveFileOverwrites(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.SaveFile(ctx, "main", FileState{Path: "a.go", ContentHash: "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFile(ctx, "main", FileState{Path: "a.go", ContentHash: "v2"}); err != nil {
		t.Fatal(err)
	}
	files, err := s.LoadFiles(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files["a.go"].ContentHash != "v2" {
		t.Errorf("overwrite failed: %+v", files)
	}
}

func TestDeleteFile(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.SaveFile(ctx, "main", FileState{Path: "a.go"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFile(ctx, "main", "a.go"); err != nil {
		t.Fatalf("DeleteFile() error = %v", err)
	}
	files, err := s.LoadFiles(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("file still present after delete: %+v", files)
	}
}

func TestIndexedBranchesOrder(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	if err := s.SaveBranch(ctx, "old", "c1", base); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBranch(ctx, "new", "c2", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBranch(ctx, "mid", "c3", base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	branches, err := s.IndexedBranches(ctx)
	if err != nil {
		t.Fatalf("IndexedBranches() error = %v", err)
	}
	want := []string{"new", "mid", "old"}
	if len(branches) != len(want) {
		t.Fatalf("got %d branches, want %d", len(branches), len(want))
	}
	for i, b := range branches {
		if b.Branch != want[i] {
			t.Errorf("branch[%d] = %s, want %s", i, b.Branch, want[i])
		}
	}
}

func TestSaveBranchOverwrites(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.SaveBranch(ctx, "main", "c1", time.Unix(1700000000, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveBranch(ctx, "main", "c2", time.Unix(1700001000, 0)); err != nil {
		t.Fatal(err)
	}
	branches, err := s.IndexedBranches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(branches) != 1 || branches[0].HeadCommit != "c2" {
		t.Errorf("branch not overwritten: %+v", branches)
	}
}

func TestCopyBranchFiles(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.SaveFile(ctx, "main", FileState{Path: "a.go", ContentHash: "h1", ChunkHashes: []string{"c1"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveFile(ctx, "main", FileState{Path: "b.go", ContentHash: "h2"}); err != nil {
		t.Fatal(err)
	}
	// The target already tracks one file; the copy must not clobber state
	// for paths it does not carry.
	if err := s.SaveFile(ctx, "feature", FileState{Path: "c.go", ContentHash: "h3"}); err != nil {
		t.Fatal(err)
	}

	if err := s.CopyBranchFiles(ctx, "main", "feature"); err != nil {
		t.Fatalf("CopyBranchFiles() error = %v", err)
	}

	files, err := s.LoadFiles(ctx, "feature")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("feature has %d files, want 3", len(files))
	}
	if files["a.go"].ChunkHashes[0] != "c1" {
		t.Error("chunk hashes not copied")
	}

	// Source is untouched.
	mains, err := s.LoadFiles(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(mains) != 2 {
		t.Errorf("main has %d files after copy, want 2", len(mains))
	}
}
