/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library holds the hierarchical in-memory media index.
package library

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/models"
)

// ErrNotFound is returned when an item identity is not indexed.
var ErrNotFound = errors.New("library: item not found")

// childList is the child index of one container: its direct children in
// insertion order, each mapped to the item ids stored beneath it.
type childList struct {
	order []string
	items map[string][]string
}

func newChildList() *childList {
	return &childList{items: make(map[string][]string)}
}

func (c *childList) add(child, itemID string) {
	ids, ok := c.items[child]
	if !ok {
		c.order = append(c.order, child)
	}
	for _, existing := range ids {
		if existing == itemID {
			return
		}
	}
	c.items[child] = append(ids, itemID)
}

func (c *childList) remove(child, itemID string) {
	ids, ok := c.items[child]
	if !ok {
		return
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != itemID {
			kept = append(kept, existing)
		}
	}
	if len(kept) > 0 {
		c.items[child] = kept
		return
	}
	delete(c.items, child)
	for i, name := range c.order {
		if name == child {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

type searchKey struct {
	container string
	keyword   string
}

// SearchStats counts search cache behaviour.
type SearchStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Index is the single owner of library state. All mutation goes through its
// methods; reads after a mutation returns observe that mutation.
type Index struct {
	mu      sync.Mutex
	records map[string]models.MediaNode
	refs    map[string]*childList
	ids     map[string]string
	cache   map[searchKey][]*models.MediaItem
	stats   SearchStats
	logger  zerolog.Logger
}

// NewIndex creates an empty index.
func NewIndex(logger zerolog.Logger) *Index {
	x := &Index{logger: logger.With().Str("component", "library").Logger()}
	x.reset()
	return x
}

func (x *Index) reset() {
	x.records = map[string]models.MediaNode{
		models.RootID: &models.Container{ID: models.RootID, Title: "root"},
	}
	x.refs = make(map[string]*childList)
	x.ids = make(map[string]string)
	x.cache = make(map[searchKey][]*models.MediaItem)
}

// Clear drops every record.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reset()
	x.stats = SearchStats{}
}

// CanonicalID computes the hierarchical id of an item from its display path
// and subsong. The file path base name is used when no display path is set.
func CanonicalID(path, filePath string, subsong int) string {
	p := path
	if p == "" {
		p = strings.ReplaceAll(filePath, "\\", "/")
		if i := strings.LastIndex(p, "/"); i >= 0 {
			p = p[i+1:]
		}
	}
	p = strings.ReplaceAll(p, "\\", "/")
	segs := strings.Split(p, "/")
	kept := segs[:0]
	for _, s := range segs {
		if s != "" && s != "." {
			kept = append(kept, s)
		}
	}
	return models.RootID + "/" + strings.Join(kept, "/") + "?" + strconv.Itoa(subsong)
}

func containerTitle(id string) string {
	if id == models.RootID {
		return "root"
	}
	return id[strings.LastIndex(id, "/")+1:]
}

// Add indexes item, overwriting any record with the same id, and returns the
// computed id.
func (x *Index) Add(item models.MediaItem) string {
	return x.add(item, true)
}

// Link indexes item like Add but without claiming its source identity, so
// library changes to the same file leave the record alone. Curated copies
// of library tracks are linked.
func (x *Index) Link(item models.MediaItem) string {
	return x.add(item, false)
}

func (x *Index) add(item models.MediaItem, track bool) string {
	id := CanonicalID(item.Path, item.FilePath, item.Subsong)
	item.ID = id
	item.ParentID = models.ParentOf(id)

	x.mu.Lock()
	defer x.mu.Unlock()
	x.invalidate()

	if track {
		x.ids[item.SourceKey()] = id
	} else if _, ok := x.records[id]; ok {
		x.removeLocked(id)
	}

	rec := item
	x.records[id] = &rec

	dir := models.RootID
	for _, seg := range strings.Split(strings.TrimPrefix(id, models.RootID+"/"), "/") {
		child := dir + "/" + seg

		cl, ok := x.refs[dir]
		if !ok {
			cl = newChildList()
			x.refs[dir] = cl
		}
		cl.add(child, id)

		switch node := x.records[dir].(type) {
		case *models.Container:
			if node.LatestItem == nil || rec.Time > node.Time {
				node.Time = rec.Time
				node.LatestItem = &rec
			}
		case nil:
			x.records[dir] = &models.Container{ID: dir, Title: containerTitle(dir), Time: rec.Time, LatestItem: &rec}
		default:
			x.logger.Warn().Str("id", dir).Msg("item path collides with an indexed item")
		}
		dir = child
	}
	return id
}

// Remove drops item by its source identity. Containers stay resolvable.
func (x *Index) Remove(item models.MediaItem) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	key := item.SourceKey()
	id, ok := x.ids[key]
	if !ok {
		return ErrNotFound
	}
	x.invalidate()
	x.removeLocked(id)
	return nil
}

func (x *Index) removeLocked(id string) {
	rec, ok := x.records[id].(*models.MediaItem)
	if !ok {
		return
	}
	delete(x.records, id)
	if x.ids[rec.SourceKey()] == id {
		delete(x.ids, rec.SourceKey())
	}

	dir := models.RootID
	for _, seg := range strings.Split(strings.TrimPrefix(id, models.RootID+"/"), "/") {
		child := dir + "/" + seg
		if cl, ok := x.refs[dir]; ok {
			cl.remove(child, id)
			if len(cl.order) == 0 {
				delete(x.refs, dir)
			}
		}
		dir = child
	}
}

// Update replaces the leaf record only. Ancestor containers keep their
// current title, time and latest item.
func (x *Index) Update(item models.MediaItem) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	id, ok := x.ids[item.SourceKey()]
	if !ok {
		return ErrNotFound
	}
	x.invalidate()
	item.ID = id
	item.ParentID = models.ParentOf(id)
	rec := item
	x.records[id] = &rec
	return nil
}

// RemoveID drops the item record stored under id.
func (x *Index) RemoveID(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.records[id].(*models.MediaItem); !ok {
		return ErrNotFound
	}
	x.invalidate()
	x.removeLocked(id)
	return nil
}

// BrowseMeta returns the record stored under id.
func (x *Index) BrowseMeta(id string) (models.MediaNode, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	node, ok := x.records[id]
	if !ok {
		return nil, false
	}
	return cloneNode(node), true
}

// BrowseChildren returns the direct children of id in insertion order.
func (x *Index) BrowseChildren(id string) []models.MediaNode {
	x.mu.Lock()
	defer x.mu.Unlock()
	cl, ok := x.refs[id]
	if !ok {
		return nil
	}
	out := make([]models.MediaNode, 0, len(cl.order))
	for _, child := range cl.order {
		if node, ok := x.records[child]; ok {
			out = append(out, cloneNode(node))
		}
	}
	return out
}

// Search returns the items beneath containerID whose fields contain keyword.
// Results are cached until the next mutation.
func (x *Index) Search(containerID, keyword string) []models.MediaItem {
	key := searchKey{container: containerID, keyword: strings.ToLower(keyword)}

	x.mu.Lock()
	defer x.mu.Unlock()

	hits, ok := x.cache[key]
	if ok {
		x.stats.Hits++
	} else {
		x.stats.Misses++
		hits = x.scan(key)
		x.cache[key] = hits
	}

	out := make([]models.MediaItem, len(hits))
	for i, h := range hits {
		out[i] = *h
	}
	return out
}

func (x *Index) scan(key searchKey) []*models.MediaItem {
	cl, ok := x.refs[key.container]
	if !ok {
		return nil
	}
	var hits []*models.MediaItem
	for _, child := range cl.order {
		for _, id := range cl.items[child] {
			item, ok := x.records[id].(*models.MediaItem)
			if !ok {
				continue
			}
			if key.keyword != "" && !matches(item, key.keyword) {
				continue
			}
			hits = append(hits, item)
		}
	}
	return hits
}

func matches(item *models.MediaItem, keyword string) bool {
	fields := []string{
		item.ID, item.Path, item.FilePath, strconv.Itoa(item.Subsong),
		item.Title, item.Artist, item.AlbumArtist, item.Album, item.TrackNumber,
		strconv.FormatInt(item.Time, 10), strconv.FormatFloat(item.Length, 'f', -1, 64),
		item.AlbumArtURI,
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), keyword) {
			return true
		}
	}
	return false
}

func (x *Index) invalidate() {
	if len(x.cache) > 0 {
		x.cache = make(map[searchKey][]*models.MediaItem)
	}
}

// SearchStats returns cache counters.
func (x *Index) SearchStats() SearchStats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stats
}

// Len returns the number of indexed items.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.ids)
}

func cloneNode(node models.MediaNode) models.MediaNode {
	switch n := node.(type) {
	case *models.MediaItem:
		c := *n
		return &c
	case *models.Container:
		c := *n
		return &c
	}
	return node
}
