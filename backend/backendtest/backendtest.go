// Package backendtest provides the conformance suite every tbf.FileSystem
// implementation is tested against.
package backendtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/mwantia/tbf"
	"golang.org/x/sync/errgroup"
)

// Factory creates a new, unopened backend instance for a single test.
type Factory func(t *testing.T) (tbf.FileSystem, error)

// Run executes the whole conformance suite against backends created by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, tbf.FileSystem)
	}{
		{"AddAndGet", testAddAndGet},
		{"IdsIncrease", testIdsIncrease},
		{"SearchScenario", testSearchScenario},
		{"SearchMembership", testSearchMembership},
		{"SearchPredicates", testSearchPredicates},
		{"SearchOrder", testSearchOrder},
		{"EditFile", testEditFile},
		{"EditMissing", testEditMissing},
		{"RemoveFile", testRemoveFile},
		{"RemoveTwice", testRemoveTwice},
		{"NoReuseAfterRemove", testNoReuseAfterRemove},
		{"GetMissing", testGetMissing},
		{"SnapshotIndependence", testSnapshotIndependence},
		{"EmptyFile", testEmptyFile},
		{"InvalidTags", testInvalidTags},
		{"ConcurrentAdds", testConcurrentAdds},
	}

	for _, test := range tests {
		t.Run(test.name, func(tst *testing.T) {
			fs := Open(tst, factory)
			test.fn(tst, fs)
		})
	}
}

// Open creates and opens a backend, closing it when the test ends.
func Open(t *testing.T, factory Factory) tbf.FileSystem {
	t.Helper()

	fs, err := factory(t)
	if err != nil {
		t.Fatalf("Backend init failed: %v", err)
	}

	if err := fs.Open(t.Context()); err != nil {
		t.Fatalf("Backend open failed: %v", err)
	}

	t.Cleanup(func() {
		if err := fs.Close(context.Background()); err != nil {
			t.Errorf("Backend close failed: %v", err)
		}
	})

	return fs
}

// MustAdd adds a file and fails the test on error.
func MustAdd(t *testing.T, fs tbf.FileSystem, data []byte, tags ...tbf.Tag) tbf.FileId {
	t.Helper()

	id, err := fs.AddFile(t.Context(), data, tags)
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	return id
}

// MustSearch searches and fails the test on error.
func MustSearch(t *testing.T, fs tbf.FileSystem, pattern tbf.TagPattern) []tbf.FileId {
	t.Helper()

	ids, err := fs.SearchTags(t.Context(), pattern)
	if err != nil {
		t.Fatalf("SearchTags failed: %v", err)
	}

	return ids
}

func expectIds(t *testing.T, what string, got []tbf.FileId, want ...tbf.FileId) {
	t.Helper()

	if want == nil {
		want = []tbf.FileId{}
	}
	if !slices.Equal(got, want) {
		t.Errorf("%s: expected %v, got %v", what, want, got)
	}
}

func expectNotFound(t *testing.T, what string, err error) {
	t.Helper()

	if !errors.Is(err, tbf.ErrFileNotFound) {
		t.Errorf("%s: expected ErrFileNotFound, got %v", what, err)
	}
	if kind := tbf.KindOf(err); kind != tbf.KindFileNotFound {
		t.Errorf("%s: expected kind %v, got %v", what, tbf.KindFileNotFound, kind)
	}
}

func testAddAndGet(t *testing.T, fs tbf.FileSystem) {
	g := tbf.NewTag(tbf.CustomGroup("g"), "b")
	id := MustAdd(t, fs, []byte{0, 1, 2, 3}, tbf.DefaultTag("a"), g, tbf.DefaultTag("a"))

	if !id.IsFile() {
		t.Errorf("Expected ordinary file id, got %s", id)
	}

	info, err := fs.GetInfo(t.Context(), id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}

	if info.ID() != id {
		t.Errorf("Expected id %s, got %s", id, info.ID())
	}
	if !bytes.Equal(info.Data(), []byte{0, 1, 2, 3}) {
		t.Errorf("Expected data [0 1 2 3], got %v", info.Data())
	}

	want := []tbf.Tag{tbf.DefaultTag("a"), g}
	if !slices.Equal(info.Tags(), want) {
		t.Errorf("Expected tags %v, got %v", want, info.Tags())
	}
}

func testIdsIncrease(t *testing.T, fs tbf.FileSystem) {
	prev := MustAdd(t, fs, []byte("first"))
	if prev < tbf.FirstFileId {
		t.Fatalf("Expected first id >= %s, got %s", tbf.FirstFileId, prev)
	}

	for i := range 10 {
		id := MustAdd(t, fs, []byte{byte(i)})
		if id <= prev {
			t.Fatalf("Expected id greater than %s, got %s", prev, id)
		}
		prev = id
	}
}

func testSearchScenario(t *testing.T, fs tbf.FileSystem) {
	a, b, c := tbf.DefaultTag("a"), tbf.DefaultTag("b"), tbf.DefaultTag("c")

	first := MustAdd(t, fs, []byte{0, 1, 2}, a, b)
	second := MustAdd(t, fs, []byte{0, 1, 2}, a)
	third := MustAdd(t, fs, []byte{0, 1, 2}, b)
	fourth := MustAdd(t, fs, []byte{0, 1, 2}, c, a)

	expectIds(t, "search a", MustSearch(t, fs, a), first, second, fourth)
	expectIds(t, "search b", MustSearch(t, fs, b), first, third)
	expectIds(t, "search [a b]", MustSearch(t, fs, tbf.Tags{a, b}), first)
	expectIds(t, "search d", MustSearch(t, fs, tbf.DefaultTag("d")))
}

func testSearchMembership(t *testing.T, fs tbf.FileSystem) {
	set := []tbf.Tag{
		tbf.DefaultTag("x"),
		tbf.NewTag(tbf.CustomGroup("g"), "y"),
		tbf.NewTag(tbf.CustomGroup("h"), "x"),
	}
	id := MustAdd(t, fs, []byte("member"), set...)

	for _, tag := range set {
		expectIds(t, fmt.Sprintf("search %s", tag), MustSearch(t, fs, tag), id)
	}

	for _, tag := range []tbf.Tag{
		tbf.DefaultTag("y"),
		tbf.NewTag(tbf.CustomGroup("g"), "x"),
		tbf.NewTag(tbf.CustomGroup("x"), "x"),
	} {
		expectIds(t, fmt.Sprintf("search %s", tag), MustSearch(t, fs, tag))
	}
}

func testSearchPredicates(t *testing.T, fs tbf.FileSystem) {
	year := tbf.CustomGroup("year")

	beach := MustAdd(t, fs, []byte("beach"), tbf.NewTag(year, "2024"), tbf.DefaultTag("beach"))
	snow := MustAdd(t, fs, []byte("snow"), tbf.NewTag(year, "2025"), tbf.DefaultTag("snow"))
	private := MustAdd(t, fs, []byte("private"), tbf.NewTag(year, "2024"), tbf.DefaultTag("private"))
	untagged := MustAdd(t, fs, []byte("untagged"))

	expectIds(t, "group year", MustSearch(t, fs, tbf.HasGroup(year)), beach, snow, private)
	expectIds(t, "name 2024", MustSearch(t, fs, tbf.HasName("2024")), beach, private)
	expectIds(t, "not private", MustSearch(t, fs, tbf.Not(tbf.HasName("private"))), beach, snow, untagged)
	expectIds(t, "and()", MustSearch(t, fs, tbf.And()), beach, snow, private, untagged)
	expectIds(t, "or()", MustSearch(t, fs, tbf.Or()))
	expectIds(t, "2024 and not private", MustSearch(t, fs, tbf.And(
		tbf.HasTag(tbf.NewTag(year, "2024")),
		tbf.Not(tbf.HasName("private")),
	)), beach)
	expectIds(t, "beach or snow", MustSearch(t, fs, tbf.AnyOf(
		tbf.DefaultTag("beach"),
		tbf.DefaultTag("snow"),
	)), beach, snow)
	expectIds(t, "default group", MustSearch(t, fs, tbf.HasGroup(tbf.DefaultGroup)), beach, snow, private)
}

func testSearchOrder(t *testing.T, fs tbf.FileSystem) {
	tag := tbf.DefaultTag("ordered")

	var ids []tbf.FileId
	for i := range 20 {
		ids = append(ids, MustAdd(t, fs, []byte{byte(i)}, tag))
	}

	got := MustSearch(t, fs, tag)
	expectIds(t, "ordered search", got, ids...)
	expectIds(t, "repeated search", MustSearch(t, fs, tag), got...)
}

func testEditFile(t *testing.T, fs tbf.FileSystem) {
	ctx := t.Context()
	a, b := tbf.DefaultTag("a"), tbf.DefaultTag("b")
	id := MustAdd(t, fs, []byte("old"), a)

	if err := fs.EditFile(ctx, id, tbf.UpdateData([]byte("new"))); err != nil {
		t.Fatalf("EditFile data failed: %v", err)
	}

	info, err := fs.GetInfo(ctx, id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if string(info.Data()) != "new" || !slices.Equal(info.Tags(), []tbf.Tag{a}) {
		t.Errorf("Expected data 'new' and tags [a], got %q %v", info.Data(), info.Tags())
	}

	if err := fs.EditFile(ctx, id, tbf.UpdateTags(b)); err != nil {
		t.Fatalf("EditFile tags failed: %v", err)
	}

	info, err = fs.GetInfo(ctx, id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if string(info.Data()) != "new" || !slices.Equal(info.Tags(), []tbf.Tag{b}) {
		t.Errorf("Expected data 'new' and tags [b], got %q %v", info.Data(), info.Tags())
	}

	expectIds(t, "search a after edit", MustSearch(t, fs, a))
	expectIds(t, "search b after edit", MustSearch(t, fs, b), id)

	update := &tbf.FileUpdate{Mask: tbf.FileUpdateAll, Data: []byte{}, Tags: nil}
	if err := fs.EditFile(ctx, id, update); err != nil {
		t.Fatalf("EditFile all failed: %v", err)
	}

	info, err = fs.GetInfo(ctx, id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if len(info.Data()) != 0 || len(info.Tags()) != 0 {
		t.Errorf("Expected empty file, got %q %v", info.Data(), info.Tags())
	}
}

func testEditMissing(t *testing.T, fs tbf.FileSystem) {
	err := fs.EditFile(t.Context(), tbf.FileIdFromUint64Unchecked(1<<40), tbf.UpdateData([]byte("x")))
	expectNotFound(t, "EditFile missing", err)
}

func testRemoveFile(t *testing.T, fs tbf.FileSystem) {
	ctx := t.Context()
	tag := tbf.DefaultTag("doomed")

	keep := MustAdd(t, fs, []byte("keep"), tag)
	gone := MustAdd(t, fs, []byte("gone"), tag)

	if err := fs.RemoveFile(ctx, gone); err != nil {
		t.Fatalf("RemoveFile failed: %v", err)
	}

	_, err := fs.GetInfo(ctx, gone)
	expectNotFound(t, "GetInfo removed", err)

	expectIds(t, "search after remove", MustSearch(t, fs, tag), keep)

	err = fs.EditFile(ctx, gone, tbf.UpdateTags(tag))
	expectNotFound(t, "EditFile removed", err)
}

func testRemoveTwice(t *testing.T, fs tbf.FileSystem) {
	ctx := t.Context()
	id := MustAdd(t, fs, []byte("twice"))

	if err := fs.RemoveFile(ctx, id); err != nil {
		t.Fatalf("RemoveFile failed: %v", err)
	}

	err := fs.RemoveFile(ctx, id)
	if fs.GetCapabilities().Contains(tbf.CapabilityIdempotentRemove) {
		if err != nil {
			t.Errorf("Expected idempotent remove, got %v", err)
		}
	} else {
		expectNotFound(t, "RemoveFile twice", err)
	}
}

func testNoReuseAfterRemove(t *testing.T, fs tbf.FileSystem) {
	ctx := t.Context()
	first := MustAdd(t, fs, []byte("a"))
	second := MustAdd(t, fs, []byte("b"))

	for _, id := range []tbf.FileId{first, second} {
		if err := fs.RemoveFile(ctx, id); err != nil {
			t.Fatalf("RemoveFile failed: %v", err)
		}
	}

	third := MustAdd(t, fs, []byte("c"))
	if third <= second {
		t.Errorf("Expected id greater than %s, got %s", second, third)
	}
}

func testGetMissing(t *testing.T, fs tbf.FileSystem) {
	_, err := fs.GetInfo(t.Context(), tbf.FileIdFromUint64Unchecked(1<<40))
	expectNotFound(t, "GetInfo missing", err)
}

func testSnapshotIndependence(t *testing.T, fs tbf.FileSystem) {
	ctx := t.Context()
	data := []byte("snapshot")
	id := MustAdd(t, fs, data, tbf.DefaultTag("s"))

	// Mutating the caller's buffer must not reach the stored copy
	data[0] = 'X'

	info, err := fs.GetInfo(ctx, id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	info.Data()[1] = 'Y'

	again, err := fs.GetInfo(ctx, id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if string(again.Data()) != "snapshot" {
		t.Errorf("Expected stored data 'snapshot', got %q", again.Data())
	}
}

func testEmptyFile(t *testing.T, fs tbf.FileSystem) {
	id := MustAdd(t, fs, nil)

	info, err := fs.GetInfo(t.Context(), id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if len(info.Data()) != 0 || len(info.Tags()) != 0 {
		t.Errorf("Expected empty file, got %q %v", info.Data(), info.Tags())
	}

	expectIds(t, "search untagged", MustSearch(t, fs, tbf.Not(tbf.HasGroup(tbf.DefaultGroup))), id)
}

func testInvalidTags(t *testing.T, fs tbf.FileSystem) {
	keep := tbf.DefaultTag("keep")
	id := MustAdd(t, fs, []byte("kept"), keep)

	for _, tag := range []tbf.Tag{
		tbf.DefaultTag("\xff"),
		tbf.NewTag(tbf.CustomGroup("\xfe"), "name"),
	} {
		if _, err := fs.AddFile(t.Context(), []byte("x"), []tbf.Tag{keep, tag}); !errors.Is(err, tbf.ErrInvalidTag) {
			t.Errorf("AddFile with %q: expected ErrInvalidTag, got %v", tag.String(), err)
		}
		if err := fs.EditFile(t.Context(), id, tbf.UpdateTags(tag)); !errors.Is(err, tbf.ErrInvalidTag) {
			t.Errorf("EditFile with %q: expected ErrInvalidTag, got %v", tag.String(), err)
		}
	}

	expectIds(t, "search after rejected writes", MustSearch(t, fs, keep), id)
	expectIds(t, "search all after rejected writes", MustSearch(t, fs, tbf.And()), id)

	info, err := fs.GetInfo(t.Context(), id)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if !slices.Equal(info.Tags(), []tbf.Tag{keep}) {
		t.Errorf("Expected tags [keep] to survive, got %v", info.Tags())
	}
}

func testConcurrentAdds(t *testing.T, fs tbf.FileSystem) {
	const workers, perWorker = 8, 10
	tag := tbf.DefaultTag("concurrent")

	var mu sync.Mutex
	seen := make(map[tbf.FileId]struct{})

	group, ctx := errgroup.WithContext(t.Context())
	for w := range workers {
		group.Go(func() error {
			for i := range perWorker {
				id, err := fs.AddFile(ctx, []byte{byte(w), byte(i)}, []tbf.Tag{tag})
				if err != nil {
					return err
				}

				mu.Lock()
				_, dup := seen[id]
				seen[id] = struct{}{}
				mu.Unlock()

				if dup {
					return fmt.Errorf("id %s allocated twice", id)
				}
			}
			return nil
		})
		group.Go(func() error {
			_, err := fs.SearchTags(ctx, tag)
			return err
		})
	}

	if err := group.Wait(); err != nil {
		t.Fatalf("Concurrent adds failed: %v", err)
	}

	if len(seen) != workers*perWorker {
		t.Errorf("Expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
	if got := MustSearch(t, fs, tag); len(got) != workers*perWorker {
		t.Errorf("Expected %d search results, got %d", workers*perWorker, len(got))
	}
}
