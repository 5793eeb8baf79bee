package store

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPoint(id, hash, path string, idx int, branches ...string) Point {
	return Point{
		ID:              id,
		ContentHash:     hash,
		Vector:          []float32{1, 0, 0},
		FilePath:        path,
		ChunkIndex:      idx,
		StartLine:       1,
		EndLine:         10,
		VisibleBranches: branches,
	}
}

func scrollAll(t *testing.T, s *LocalStore, filter ScrollFilter) []Point {
	t.Helper()
	var out []Point
	if err := s.ScrollPoints(context.Background(), filter, func(p Point) error {
		out = append(out, p)
		return nil
	}); err != nil {
		t.Fatalf("ScrollPoints() error = %v", err)
	}
	return out
}

func TestLocalStoreUpsertAndScroll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.UpsertPoints(ctx, []Point{
		testPoint("p1", "h1", "a.go", 0, "main"),
		testPoint("p2", "h2", "a.go", 1, "main"),
		testPoint("p3", "h3", "b.go", 0, "main"),
	})
	if err != nil {
		t.Fatalf("UpsertPoints() error = %v", err)
	}

	if got := len(scrollAll(t, s, ScrollFilter{})); got != 3 {
		t.Errorf("scroll all = %d points, want 3", got)
	}
	if got := len(scrollAll(t, s, ScrollFilter{FilePath: "a.go"})); got != 2 {
		t.Errorf("scroll a.go = %d points, want 2", got)
	}
	points := scrollAll(t, s, ScrollFilter{FilePath: "b.go", WithVectors: true})
	if len(points) != 1 || len(points[0].Vector) != 3 {
		t.Errorf("scroll with vectors = %+v", points)
	}
}

func TestLocalStoreReplaceFilePoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceFilePoints(ctx, "a.go", []Point{
		testPoint("p1", "h1", "a.go", 0, "main"),
		testPoint("p2", "h2", "a.go", 1, "main"),
		testPoint("p3", "h3", "a.go", 2, "main"),
	}); err != nil {
		t.Fatalf("ReplaceFilePoints() error = %v", err)
	}

	// Replace with a smaller set: one surviving ID, one new, one gone.
	if err := s.ReplaceFilePoints(ctx, "a.go", []Point{
		testPoint("p1", "h1", "a.go", 0, "main"),
		testPoint("p9", "h9", "a.go", 1, "main"),
	}); err != nil {
		t.Fatalf("ReplaceFilePoints() error = %v", err)
	}

	points := scrollAll(t, s, ScrollFilter{FilePath: "a.go"})
	if len(points) != 2 {
		t.Fatalf("after replace = %d points, want 2", len(points))
	}
	ids := map[string]bool{}
	for _, p := range points {
		ids[p.ID] = true
	}
	if !ids["p1"] || !ids["p9"] || ids["p2"] || ids["p3"] {
		t.Errorf("after replace ids = %v", ids)
	}
}

func TestLocalStoreReplaceMergesVisibility(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// a.go indexed on main, then made visible on feature too.
	if err := s.ReplaceFilePoints(ctx, "a.go", []Point{
		testPoint("p1", "h1", "a.go", 0, "main"),
		testPoint("p2", "h2", "a.go", 1, "main"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ShowPointsForBranch(ctx, []string{"h1", "h2"}, "feature"); err != nil {
		t.Fatal(err)
	}

	// Re-index on feature with chunk 0 unchanged and chunk 1 rewritten.
	if err := s.ReplaceFilePoints(ctx, "a.go", []Point{
		testPoint("p1", "h1", "a.go", 0, "feature"),
		testPoint("p9", "h9", "a.go", 1, "feature"),
	}); err != nil {
		t.Fatal(err)
	}

	byID := map[string]Point{}
	for _, p := range scrollAll(t, s, ScrollFilter{FilePath: "a.go"}) {
		byID[p.ID] = p
	}
	if len(byID) != 2 {
		t.Fatalf("after replace = %d points, want 2", len(byID))
	}
	shared := byID["p1"]
	if !containsBranch(shared.VisibleBranches, "main") {
		t.Errorf("replace on feature dropped main from the shared chunk: %v", shared.VisibleBranches)
	}
	if !containsBranch(shared.VisibleBranches, "feature") {
		t.Errorf("shared chunk not visible on feature: %v", shared.VisibleBranches)
	}
	if rewritten := byID["p9"]; containsBranch(rewritten.VisibleBranches, "main") {
		t.Errorf("rewritten chunk must only be visible on feature: %v", rewritten.VisibleBranches)
	}
}

func TestLocalStoreScrollSkipsCorruptVector(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPoints(ctx, []Point{
		testPoint("p1", "h1", "a.go", 0, "main"),
		testPoint("p2", "h2", "b.go", 0, "main"),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec(`UPDATE points SET vector = 'not-json' WHERE id = 'p1'`); err != nil {
		t.Fatal(err)
	}

	points := scrollAll(t, s, ScrollFilter{WithVectors: true})
	if len(points) != 1 || points[0].ID != "p2" {
		t.Errorf("corrupt vector must skip only the broken point, got %+v", points)
	}
	// Without vectors the row is still served.
	if got := len(scrollAll(t, s, ScrollFilter{})); got != 2 {
		t.Errorf("payload-only scroll = %d points, want 2", got)
	}
}

func TestLocalStoreReplaceDoesNotTouchOtherFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceFilePoints(ctx, "a.go", []Point{testPoint("p1", "h1", "a.go", 0, "main")}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceFilePoints(ctx, "b.go", []Point{testPoint("p2", "h2", "b.go", 0, "main")}); err != nil {
		t.Fatal(err)
	}
	if got := len(scrollAll(t, s, ScrollFilter{FilePath: "a.go"})); got != 1 {
		t.Errorf("a.go lost points during b.go replace: %d", got)
	}
}

func TestLocalStoreHideAndShow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPoints(ctx, []Point{
		testPoint("p1", "h1", "a.go", 0, "main", "feature"),
		testPoint("p2", "h2", "b.go", 0, "main"),
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.HidePointsForBranch(ctx, []string{"h1"}, "feature"); err != nil {
		t.Fatalf("HidePointsForBranch() error = %v", err)
	}
	points := scrollAll(t, s, ScrollFilter{FilePath: "a.go"})
	if len(points) != 1 {
		t.Fatal("point disappeared entirely")
	}
	if containsBranch(points[0].VisibleBranches, "feature") {
		t.Error("feature still visible after hide")
	}
	if !containsBranch(points[0].VisibleBranches, "main") {
		t.Error("hide removed an unrelated branch")
	}

	if err := s.ShowPointsForBranch(ctx, []string{"h1", "h2"}, "feature"); err != nil {
		t.Fatalf("ShowPointsForBranch() error = %v", err)
	}
	for _, p := range scrollAll(t, s, ScrollFilter{}) {
		if !containsBranch(p.VisibleBranches, "feature") {
			t.Errorf("point %s not visible on feature after show", p.ID)
		}
	}

	// Showing twice must not duplicate the branch entry.
	if err := s.ShowPointsForBranch(ctx, []string{"h1"}, "feature"); err != nil {
		t.Fatal(err)
	}
	points = scrollAll(t, s, ScrollFilter{FilePath: "a.go"})
	count := 0
	for _, b := range points[0].VisibleBranches {
		if b == "feature" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("feature listed %d times, want 1", count)
	}
}

func TestLocalStoreBranchFilteredScroll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPoints(ctx, []Point{
		testPoint("p1", "h1", "a.go", 0, "main"),
		testPoint("p2", "h2", "b.go", 0, "feature"),
	}); err != nil {
		t.Fatal(err)
	}
	points := scrollAll(t, s, ScrollFilter{Branch: "feature"})
	if len(points) != 1 || points[0].ID != "p2" {
		t.Errorf("branch filter = %+v", points)
	}
}

func TestLocalStoreSearchSimilar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testPoint("p1", "h1", "a.go", 0, "main")
	a.Vector = []float32{1, 0, 0}
	b := testPoint("p2", "h2", "b.go", 0, "main")
	b.Vector = []float32{0, 1, 0}
	hidden := testPoint("p3", "h3", "c.go", 0, "feature")
	hidden.Vector = []float32{1, 0, 0}
	if err := s.UpsertPoints(ctx, []Point{a, b, hidden}); err != nil {
		t.Fatal(err)
	}

	hits, err := s.SearchSimilar(ctx, []float32{1, 0, 0}, "main", 10)
	if err != nil {
		t.Fatalf("SearchSimilar() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (branch filter)", len(hits))
	}
	if hits[0].ID != "p1" {
		t.Errorf("best hit = %s, want p1", hits[0].ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Error("hits not sorted by score")
	}
}

func TestLocalStoreDeleteFilePoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPoints(ctx, []Point{
		testPoint("p1", "h1", "a.go", 0, "main"),
		testPoint("p2", "h2", "b.go", 0, "main"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFilePoints(ctx, "a.go"); err != nil {
		t.Fatalf("DeleteFilePoints() error = %v", err)
	}
	if got := len(scrollAll(t, s, ScrollFilter{})); got != 1 {
		t.Errorf("after delete = %d points, want 1", got)
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("hash", 0)
	b := PointID("hash", 0)
	c := PointID("hash", 1)
	if a != b {
		t.Error("same inputs produced different IDs")
	}
	if a == c {
		t.Error("different chunk index produced the same ID")
	}
}

func TestEnsureIndexes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := EnsureIndexes(ctx, s, IndexModeCreate); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := EnsureIndexes(ctx, s, IndexModeVerify); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := EnsureIndexes(ctx, s, IndexModeQuery); err != nil {
		t.Fatalf("query: %v", err)
	}
}
