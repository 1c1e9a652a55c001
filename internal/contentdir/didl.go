/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package contentdir

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/anacrolix/dms/upnpav"

	"github.com/friendsincode/mediabridge/internal/medialink"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/timefmt"
)

// Object classes.
const (
	ClassContainer  = "object.container"
	ClassMusicTrack = "object.item.audioItem.musicTrack"
)

type didlLite struct {
	XMLName xml.Name `xml:"DIDL-Lite"`
	XMLNS   string   `xml:"xmlns,attr"`
	DC      string   `xml:"xmlns:dc,attr"`
	UPnP    string   `xml:"xmlns:upnp,attr"`
	DLNA    string   `xml:"xmlns:dlna,attr"`
	Objects []any
}

type didlContainer struct {
	upnpav.Object
	XMLName     xml.Name `xml:"container"`
	Searchable  int      `xml:"searchable,attr"`
	AlbumArtURI string   `xml:"upnp:albumArtURI,omitempty"`
}

type didlArtist struct {
	Role string `xml:"role,attr,omitempty"`
	Name string `xml:",chardata"`
}

type didlRes struct {
	XMLName      xml.Name `xml:"res"`
	ProtocolInfo string   `xml:"protocolInfo,attr"`
	Duration     string   `xml:"duration,attr,omitempty"`
	URL          string   `xml:",chardata"`
}

type didlItem struct {
	upnpav.Object
	XMLName     xml.Name     `xml:"item"`
	Creator     string       `xml:"dc:creator,omitempty"`
	Artists     []didlArtist `xml:"upnp:artist"`
	Album       string       `xml:"upnp:album,omitempty"`
	TrackNumber string       `xml:"upnp:originalTrackNumber,omitempty"`
	AlbumArtURI string       `xml:"upnp:albumArtURI,omitempty"`
	Res         []didlRes
}

func newDIDL() *didlLite {
	return &didlLite{
		XMLNS: "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		DC:    "http://purl.org/dc/elements/1.1/",
		UPnP:  "urn:schemas-upnp-org:metadata-1-0/upnp/",
		DLNA:  "urn:schemas-dlna-org:metadata-1-0/",
	}
}

// Resources returns the res entries offered for item, source format first.
// Items that carry no local file keep their own resource list.
func Resources(baseURL string, item *models.MediaItem) []models.Resource {
	if item.FilePath == "" {
		return item.Resources
	}
	duration := ""
	if item.Length > 0 {
		duration = timefmt.HMS(item.Length)
	}
	formats := Candidates(item.FilePath)
	out := make([]models.Resource, 0, len(formats))
	for _, f := range formats {
		out = append(out, models.Resource{
			URL:          medialink.StreamURL(baseURL, item.FilePath, item.Subsong, f),
			ProtocolInfo: ProtocolInfo(f, Passthrough(item.FilePath, item.Subsong, f)),
			Duration:     duration,
		})
	}
	return out
}

func albumArt(baseURL string, item *models.MediaItem) string {
	if item == nil {
		return ""
	}
	if item.FilePath == "" {
		return item.AlbumArtURI
	}
	return medialink.ArtworkURL(baseURL, item.FilePath, item.Subsong)
}

func itemElement(baseURL string, item *models.MediaItem) didlItem {
	class := item.Class
	if class == "" {
		class = ClassMusicTrack
	}
	parent := item.ParentID
	if parent == "" {
		parent = models.ParentOf(item.ID)
	}
	el := didlItem{
		Object: upnpav.Object{
			ID:         item.ID,
			ParentID:   parent,
			Restricted: 1,
			Class:      class,
			Title:      item.Title,
		},
		Creator:     item.Artist,
		Album:       item.Album,
		TrackNumber: item.TrackNumber,
		AlbumArtURI: albumArt(baseURL, item),
	}
	if item.Artist != "" {
		el.Artists = append(el.Artists, didlArtist{Name: item.Artist})
	}
	if item.AlbumArtist != "" {
		el.Artists = append(el.Artists, didlArtist{Role: "AlbumArtist", Name: item.AlbumArtist})
	}
	for _, r := range Resources(baseURL, item) {
		el.Res = append(el.Res, didlRes{ProtocolInfo: r.ProtocolInfo, Duration: r.Duration, URL: r.URL})
	}
	return el
}

// Feed serializes nodes into a DIDL-Lite document.
func Feed(baseURL string, nodes []models.MediaNode) (string, error) {
	doc := newDIDL()
	for _, node := range nodes {
		switch n := node.(type) {
		case *models.Container:
			doc.Objects = append(doc.Objects, didlContainer{
				Object: upnpav.Object{
					ID:         n.ID,
					ParentID:   models.ParentOf(n.ID),
					Restricted: 1,
					Class:      ClassContainer,
					Title:      n.Title,
				},
				AlbumArtURI: albumArt(baseURL, n.LatestItem),
			})
		case *models.MediaItem:
			doc.Objects = append(doc.Objects, itemElement(baseURL, n))
		}
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal didl: %w", err)
	}
	return string(out), nil
}

// ItemMetadata renders the CurrentURIMetaData document for one track.
func ItemMetadata(baseURL string, item models.MediaItem) (string, error) {
	return Feed(baseURL, []models.MediaNode{&item})
}

type parsedRes struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Duration     string `xml:"duration,attr"`
	URL          string `xml:",chardata"`
}

type parsedArtist struct {
	Role string `xml:"role,attr"`
	Name string `xml:",chardata"`
}

type parsedObject struct {
	XMLName     xml.Name
	ID          string         `xml:"id,attr"`
	ParentID    string         `xml:"parentID,attr"`
	Title       string         `xml:"title"`
	Class       string         `xml:"class"`
	Creator     string         `xml:"creator"`
	Artists     []parsedArtist `xml:"artist"`
	Album       string         `xml:"album"`
	TrackNumber string         `xml:"originalTrackNumber"`
	AlbumArtURI string         `xml:"albumArtURI"`
	Res         []parsedRes    `xml:"res"`
}

type parsedDIDL struct {
	Objects []parsedObject `xml:",any"`
}

// Parse decodes a DIDL-Lite document into entries. Containers come back with
// a container class and no resources.
func Parse(doc string) ([]models.MediaItem, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, nil
	}
	var parsed parsedDIDL
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, fmt.Errorf("parse didl: %w", err)
	}
	out := make([]models.MediaItem, 0, len(parsed.Objects))
	for _, o := range parsed.Objects {
		if o.XMLName.Local != "item" && o.XMLName.Local != "container" {
			continue
		}
		m := models.MediaItem{
			ID:          o.ID,
			ParentID:    o.ParentID,
			Class:       strings.TrimSpace(o.Class),
			Title:       strings.TrimSpace(o.Title),
			Artist:      strings.TrimSpace(o.Creator),
			Album:       strings.TrimSpace(o.Album),
			TrackNumber: strings.TrimSpace(o.TrackNumber),
			AlbumArtURI: strings.TrimSpace(o.AlbumArtURI),
		}
		if m.Class == "" && o.XMLName.Local == "container" {
			m.Class = ClassContainer
		}
		for _, a := range o.Artists {
			name := strings.TrimSpace(a.Name)
			switch {
			case strings.EqualFold(a.Role, "AlbumArtist"):
				m.AlbumArtist = name
			case m.Artist == "":
				m.Artist = name
			}
		}
		for _, r := range o.Res {
			m.Resources = append(m.Resources, models.Resource{
				URL:          strings.TrimSpace(r.URL),
				ProtocolInfo: r.ProtocolInfo,
				Duration:     r.Duration,
			})
			if m.Length == 0 && r.Duration != "" {
				m.Length = timefmt.Seconds(r.Duration)
			}
		}
		out = append(out, m)
	}
	return out, nil
}
