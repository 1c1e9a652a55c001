/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sorting orders media nodes by UPnP sort criteria.
package sorting

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/friendsincode/mediabridge/internal/models"
)

type key struct {
	num     float64
	str     string
	numeric bool
}

type field struct {
	token  string
	access func(models.MediaNode) key
}

// capabilities is the fixed table of sortable properties, in advertised order.
var capabilities = []field{
	{token: "dc:date", access: func(n models.MediaNode) key {
		switch v := n.(type) {
		case *models.MediaItem:
			return key{num: float64(v.Time), numeric: true}
		case *models.Container:
			return key{num: float64(v.Time), numeric: true}
		}
		return key{numeric: true}
	}},
	{token: "dc:title", access: func(n models.MediaNode) key {
		switch v := n.(type) {
		case *models.MediaItem:
			return key{str: v.Title}
		case *models.Container:
			return key{str: v.Title}
		}
		return key{}
	}},
	{token: "upnp:Album", access: func(n models.MediaNode) key {
		if v, ok := n.(*models.MediaItem); ok {
			return key{str: v.Album}
		}
		return key{}
	}},
	{token: "upnp:originalTrackNumber", access: func(n models.MediaNode) key {
		if v, ok := n.(*models.MediaItem); ok {
			return key{num: TrackNumber(v.TrackNumber), numeric: true}
		}
		return key{num: math.NaN(), numeric: true}
	}},
}

var aliases = map[string]string{
	"date":                "dc:date",
	"title":               "dc:title",
	"album":               "upnp:Album",
	"originaltracknumber": "upnp:originalTrackNumber",
	"tracknumber":         "upnp:originalTrackNumber",
}

// Capabilities returns the supported sort tokens.
func Capabilities() []string {
	out := make([]string, len(capabilities))
	for i, f := range capabilities {
		out[i] = f.token
	}
	return out
}

// TrackNumber parses "3" or "3/12" style values. Unparsable input yields NaN.
func TrackNumber(v string) float64 {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, '/'); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return math.NaN()
	}
	return n
}

// Criterion is one parsed sort token.
type Criterion struct {
	Token      string
	Descending bool
	access     func(models.MediaNode) key
}

// Known reports whether the token maps to a sortable property.
func (c Criterion) Known() bool { return c.access != nil }

// Parse splits a comma separated criteria string such as "+dc:title,-dc:date".
// A missing sign means ascending.
func Parse(criteria string) []Criterion {
	var out []Criterion
	for _, raw := range strings.Split(criteria, ",") {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			continue
		}
		c := Criterion{}
		switch tok[0] {
		case '-':
			c.Descending = true
			tok = tok[1:]
		case '+':
			tok = tok[1:]
		}
		c.Token = tok
		c.access = lookup(tok)
		out = append(out, c)
	}
	return out
}

func lookup(tok string) func(models.MediaNode) key {
	for _, f := range capabilities {
		if f.token == tok {
			return f.access
		}
	}
	local := strings.ToLower(tok)
	if i := strings.IndexByte(local, ':'); i >= 0 {
		local = local[i+1:]
	}
	if canonical, ok := aliases[local]; ok {
		return lookup(canonical)
	}
	return nil
}

// Sort orders nodes in place. Nodes equal under every criterion keep their
// input order; unknown tokens compare equal.
func Sort(nodes []models.MediaNode, criteria string) {
	crit := Parse(criteria)
	if len(crit) == 0 {
		return
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return Compare(crit, nodes[i], nodes[j]) < 0
	})
}

// Compare applies the criteria in order and returns -1, 0 or 1.
func Compare(crit []Criterion, a, b models.MediaNode) int {
	for _, c := range crit {
		if c.access == nil {
			continue
		}
		r := compareKeys(c.access(a), c.access(b))
		if c.Descending {
			r = -r
		}
		if r != 0 {
			return r
		}
	}
	return 0
}

func compareKeys(a, b key) int {
	if a.numeric {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		// NaN on either side compares equal
		return 0
	}
	return strings.Compare(a.str, b.str)
}
