/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strconv"
	"strings"
)

// RootID is the id of the synthetic top-level container.
const RootID = "0"

// Resource is one playable encoding of a track.
type Resource struct {
	URL          string `json:"url"`
	ProtocolInfo string `json:"protocolInfo"`
	Duration     string `json:"duration,omitempty"`
}

// MediaItem is a leaf track in the library.
//
// Path is the display path used to place the item in the container tree
// (it may use either separator). FilePath and Subsong together form the
// stable external identity the host engine uses for every mutation.
type MediaItem struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parentID,omitempty"`
	Class       string     `json:"class,omitempty"`
	Path        string     `json:"path,omitempty"`
	FilePath    string     `json:"filePath,omitempty"`
	Subsong     int        `json:"subsong"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist,omitempty"`
	AlbumArtist string     `json:"albumArtist,omitempty"`
	Album       string     `json:"album,omitempty"`
	TrackNumber string     `json:"trackNumber,omitempty"`
	Time        int64      `json:"time"`
	Length      float64    `json:"length"`
	Resources   []Resource `json:"resList,omitempty"`
	AlbumArtURI string     `json:"albumArtURI,omitempty"`
}

// SourceKey returns the identity callers add and remove this item with:
// the display path as given, the file path and the subsong.
func (m MediaItem) SourceKey() string {
	return m.Path + "|" + m.FilePath + "?" + strconv.Itoa(m.Subsong)
}

// NodeID implements MediaNode.
func (m *MediaItem) NodeID() string { return m.ID }

func (*MediaItem) isMediaNode() {}

// IsContainer reports whether a parsed remote entry is a container.
func (m MediaItem) IsContainer() bool {
	return strings.HasPrefix(m.Class, "object.container")
}

// Container is a synthetic directory node.
type Container struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	LatestItem *MediaItem `json:"latestItem,omitempty"`
	Time       int64      `json:"time"`
}

// NodeID implements MediaNode.
func (c *Container) NodeID() string { return c.ID }

func (*Container) isMediaNode() {}

// MediaNode is either a *MediaItem or a *Container.
type MediaNode interface {
	NodeID() string
	isMediaNode()
}

// ParentOf returns the container id holding id.
func ParentOf(id string) string {
	if id == RootID {
		return "-1"
	}
	i := strings.LastIndex(id, "/")
	if i < 0 {
		return RootID
	}
	return id[:i]
}
