package library

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/models"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex(zerolog.Nop())
	t.Cleanup(idx.Clear)
	return idx
}

func song(path string, subsong int, title string, tm int64) models.MediaItem {
	return models.MediaItem{
		Path:     path,
		FilePath: "/music/" + path,
		Subsong:  subsong,
		Title:    title,
		Time:     tm,
	}
}

func TestAddCreatesContainersAndLeaf(t *testing.T) {
	idx := newTestIndex(t)
	item := song("A/B/song.flac", 0, "Song", 100)
	id := idx.Add(item)
	if id != "0/A/B/song.flac?0" {
		t.Fatalf("unexpected id %q", id)
	}

	node, ok := idx.BrowseMeta("0/A/B")
	if !ok {
		t.Fatal("expected container 0/A/B")
	}
	c, ok := node.(*models.Container)
	if !ok || c.Title != "B" {
		t.Fatalf("expected container titled B, got %#v", node)
	}
	if c.LatestItem == nil || c.LatestItem.ID != id || c.Time != 100 {
		t.Fatalf("unexpected latest item %#v time %d", c.LatestItem, c.Time)
	}

	leaf, ok := idx.BrowseMeta("0/A/B" + "/song.flac?0")
	if !ok {
		t.Fatal("expected leaf")
	}
	if got := leaf.(*models.MediaItem).Title; got != "Song" {
		t.Fatalf("expected title Song, got %q", got)
	}

	if err := idx.Remove(item); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if children := idx.BrowseChildren("0/A/B"); len(children) != 0 {
		t.Fatalf("expected empty child list, got %d", len(children))
	}
	node, ok = idx.BrowseMeta("0/A/B")
	if !ok || node.(*models.Container).Title != "B" {
		t.Fatal("expected container to remain resolvable after remove")
	}
	if _, ok := idx.BrowseMeta(id); ok {
		t.Fatal("expected leaf record to be gone")
	}
}

func TestRootContainer(t *testing.T) {
	idx := newTestIndex(t)
	node, ok := idx.BrowseMeta(models.RootID)
	if !ok || node.(*models.Container).Title != "root" {
		t.Fatalf("expected root container, got %#v", node)
	}
}

func TestAddRemoveLeavesNoTrace(t *testing.T) {
	idx := newTestIndex(t)
	keep := song("Artist/Album/01.flac", 0, "Keep", 10)
	idx.Add(keep)
	before := childIDs(idx.BrowseChildren("0/Artist/Album"))

	extra := song("Artist/Album/02.flac", 0, "Extra", 20)
	idx.Add(extra)
	idx.Add(extra)
	if err := idx.Remove(extra); err != nil {
		t.Fatalf("remove: %v", err)
	}

	after := childIDs(idx.BrowseChildren("0/Artist/Album"))
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("child list changed: %v -> %v", before, after)
	}
	for _, hit := range idx.Search(models.RootID, "") {
		if hit.Title == "Extra" {
			t.Fatal("removed item still reachable through search")
		}
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", idx.Len())
	}
}

func TestItemsWithoutFilePathKeepSeparateIdentities(t *testing.T) {
	idx := newTestIndex(t)
	first := models.MediaItem{Path: "A/B/song.flac", Title: "Song", Time: 100}
	second := models.MediaItem{Path: "A/C/other.flac", Title: "Other", Time: 200}
	firstID := idx.Add(first)
	idx.Add(second)

	if _, ok := idx.BrowseMeta(firstID); !ok {
		t.Fatal("first item evicted by second add")
	}
	if got := len(idx.BrowseChildren("0/A/B")); got != 1 {
		t.Fatalf("expected 1 child under 0/A/B, got %d", got)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", idx.Len())
	}

	if err := idx.Remove(second); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := idx.BrowseMeta(firstID); !ok {
		t.Fatal("removing second item dropped the first")
	}
	if got := len(idx.BrowseChildren("0/A/C")); got != 0 {
		t.Fatalf("expected empty 0/A/C, got %d", got)
	}
}

func TestReAddDoesNotDuplicate(t *testing.T) {
	idx := newTestIndex(t)
	item := song("X/track.mp3", 0, "One", 1)
	idx.Add(item)
	item.Title = "Two"
	idx.Add(item)

	children := idx.BrowseChildren("0/X")
	if len(children) != 1 {
		t.Fatalf("expected one child, got %d", len(children))
	}
	if got := children[0].(*models.MediaItem).Title; got != "Two" {
		t.Fatalf("expected overwritten record, got %q", got)
	}
	if got := len(idx.Search("0/X", "")); got != 1 {
		t.Fatalf("expected one search hit, got %d", got)
	}
}

func TestAddRemoveSiblingsRestoresChildList(t *testing.T) {
	idx := newTestIndex(t)
	idx.Add(song("D/a.flac", 0, "a", 1))
	before := childIDs(idx.BrowseChildren("0/D"))

	var added []models.MediaItem
	for i := 0; i < 5; i++ {
		it := song(fmt.Sprintf("D/s%d.flac", i), 0, "s", int64(i))
		idx.Add(it)
		added = append(added, it)
	}
	for _, it := range added {
		if err := idx.Remove(it); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	after := childIDs(idx.BrowseChildren("0/D"))
	if fmt.Sprint(before) != fmt.Sprint(after) {
		t.Fatalf("child list not restored: %v -> %v", before, after)
	}
}

func TestBrowseChildrenDirectParentsOnly(t *testing.T) {
	idx := newTestIndex(t)
	idx.Add(song("R/x.flac", 0, "x", 1))
	idx.Add(song("R/Sub/y.flac", 0, "y", 2))
	idx.Add(song("R/Sub/Deeper/z.flac", 0, "z", 3))

	for _, node := range idx.BrowseChildren("0/R") {
		if parent := models.ParentOf(node.NodeID()); parent != "0/R" {
			t.Fatalf("child %q has parent %q", node.NodeID(), parent)
		}
	}
	ids := childIDs(idx.BrowseChildren("0/R"))
	if len(ids) != 2 || ids[0] != "0/R/x.flac?0" || ids[1] != "0/R/Sub" {
		t.Fatalf("unexpected children %v", ids)
	}
}

func TestUpdateReplacesLeafOnly(t *testing.T) {
	idx := newTestIndex(t)
	item := song("Old/t.flac", 0, "Before", 5)
	idx.Add(item)

	item.Title = "After"
	item.Time = 500
	if err := idx.Update(item); err != nil {
		t.Fatalf("update: %v", err)
	}
	node, _ := idx.BrowseMeta("0/Old/t.flac?0")
	if node.(*models.MediaItem).Title != "After" {
		t.Fatal("leaf not replaced")
	}
	c, _ := idx.BrowseMeta("0/Old")
	if c.(*models.Container).Time != 5 {
		t.Fatal("update must not touch ancestor containers")
	}

	if err := idx.Update(song("missing.flac", 0, "", 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchKeywordAndCache(t *testing.T) {
	idx := newTestIndex(t)
	idx.Add(models.MediaItem{Path: "M/1.flac", FilePath: "/m/1.flac", Title: "Blue Monday", Artist: "New Order"})
	idx.Add(models.MediaItem{Path: "M/2.flac", FilePath: "/m/2.flac", Title: "Ceremony", Artist: "New Order"})
	idx.Add(models.MediaItem{Path: "M/Sub/3.flac", FilePath: "/m/3.flac", Title: "Love", Artist: "Joy Division"})

	if got := len(idx.Search("0/M", "")); got != 3 {
		t.Fatalf("expected 3 descendants, got %d", got)
	}
	hits := idx.Search("0/M", "MONDAY")
	if len(hits) != 1 || hits[0].Title != "Blue Monday" {
		t.Fatalf("unexpected hits %#v", hits)
	}
	for _, h := range idx.Search("0/M", "order") {
		if h.Artist != "New Order" {
			t.Fatalf("hit without match: %#v", h)
		}
	}

	base := idx.SearchStats()
	idx.Search("0/M", "order")
	idx.Search("0/M", "order")
	stats := idx.SearchStats()
	if stats.Hits-base.Hits != 2 || stats.Misses != base.Misses {
		t.Fatalf("expected two cache hits, got %+v after %+v", stats, base)
	}

	idx.Add(models.MediaItem{Path: "M/4.flac", FilePath: "/m/4.flac", Title: "Regret", Artist: "New Order"})
	if got := len(idx.Search("0/M", "order")); got != 3 {
		t.Fatalf("expected cache invalidated by add, got %d hits", got)
	}
	if idx.SearchStats().Misses != stats.Misses+1 {
		t.Fatal("expected a miss after mutation")
	}
}

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		filePath string
		subsong  int
		want     string
	}{
		{name: "forward slashes", path: "A/B/c.flac", want: "0/A/B/c.flac?0"},
		{name: "backslashes", path: `Music\Artist\t.mp3`, subsong: 2, want: "0/Music/Artist/t.mp3?2"},
		{name: "leading slash", path: "/A//b.wav", want: "0/A/b.wav?0"},
		{name: "file fallback", filePath: `C:\tunes\x.nsf`, subsong: 3, want: "0/x.nsf?3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanonicalID(tc.path, tc.filePath, tc.subsong); got != tc.want {
				t.Fatalf("CanonicalID = %q, want %q", got, tc.want)
			}
		})
	}
}

func childIDs(nodes []models.MediaNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.NodeID()
	}
	return ids
}
