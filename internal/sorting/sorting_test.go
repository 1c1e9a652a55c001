package sorting

import (
	"math"
	"strings"
	"testing"

	"github.com/friendsincode/mediabridge/internal/models"
)

func items(specs ...models.MediaItem) []models.MediaNode {
	out := make([]models.MediaNode, len(specs))
	for i := range specs {
		it := specs[i]
		out[i] = &it
	}
	return out
}

func ids(nodes []models.MediaNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.NodeID()
	}
	return strings.Join(parts, ",")
}

func TestSortByAlbumThenTrackDescending(t *testing.T) {
	nodes := items(
		models.MediaItem{ID: "a", Album: "Beta", TrackNumber: "1"},
		models.MediaItem{ID: "b", Album: "Alpha", TrackNumber: "2/10"},
		models.MediaItem{ID: "c", Album: "Alpha", TrackNumber: "7/10"},
		models.MediaItem{ID: "d", Album: "Beta", TrackNumber: "3"},
	)
	Sort(nodes, "+upnp:Album,-upnp:originalTrackNumber")
	if got := ids(nodes); got != "c,b,d,a" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestSortIsStable(t *testing.T) {
	nodes := items(
		models.MediaItem{ID: "1", Album: "Same", Title: "z"},
		models.MediaItem{ID: "2", Album: "Other", Title: "y"},
		models.MediaItem{ID: "3", Album: "Same", Title: "x"},
		models.MediaItem{ID: "4", Album: "Same", Title: "w"},
	)
	Sort(nodes, "+upnp:Album")
	if got := ids(nodes); got != "2,1,3,4" {
		t.Fatalf("equal keys must keep input order, got %s", got)
	}
}

func TestSortUnknownAndEmptyCriteria(t *testing.T) {
	tests := []struct {
		name     string
		criteria string
	}{
		{name: "empty", criteria: ""},
		{name: "unknown token", criteria: "+upnp:genre"},
		{name: "only separators", criteria: " , ,"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			nodes := items(models.MediaItem{ID: "b", Title: "b"}, models.MediaItem{ID: "a", Title: "a"})
			Sort(nodes, tc.criteria)
			if got := ids(nodes); got != "b,a" {
				t.Fatalf("expected identity order, got %s", got)
			}
		})
	}
}

func TestSortDateMixesContainersAndItems(t *testing.T) {
	nodes := []models.MediaNode{
		&models.Container{ID: "dir", Time: 50},
		&models.MediaItem{ID: "new", Time: 90},
		&models.MediaItem{ID: "old", Time: 10},
	}
	Sort(nodes, "-dc:date")
	if got := ids(nodes); got != "new,dir,old" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestParseAliasesAndSigns(t *testing.T) {
	crit := Parse("+Album,-TrackNumber,dc:title,-foo")
	if len(crit) != 4 {
		t.Fatalf("expected 4 criteria, got %d", len(crit))
	}
	if !crit[0].Known() || crit[0].Descending {
		t.Fatalf("unexpected first criterion %+v", crit[0])
	}
	if !crit[1].Known() || !crit[1].Descending {
		t.Fatalf("unexpected second criterion %+v", crit[1])
	}
	if !crit[2].Known() || crit[2].Descending {
		t.Fatalf("unsigned token should sort ascending: %+v", crit[2])
	}
	if crit[3].Known() {
		t.Fatal("unknown token must not resolve")
	}
}

func TestTrackNumber(t *testing.T) {
	if got := TrackNumber("3/12"); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
	if got := TrackNumber(" 04 "); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
	if !math.IsNaN(TrackNumber("side A")) {
		t.Fatal("expected NaN for unparsable track number")
	}
}

func TestCapabilities(t *testing.T) {
	want := "dc:date,dc:title,upnp:Album,upnp:originalTrackNumber"
	if got := strings.Join(Capabilities(), ","); got != want {
		t.Fatalf("got %s", got)
	}
}
