/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package contentdir implements the ContentDirectory browse and search actions.
package contentdir

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/library"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/sorting"
)

// BrowseFlag selects metadata or children browsing.
type BrowseFlag string

const (
	BrowseMetadata       BrowseFlag = "BrowseMetadata"
	BrowseDirectChildren BrowseFlag = "BrowseDirectChildren"
)

// DefaultRequestedCount applies when a request carries no usable count.
const DefaultRequestedCount = 10

// Result is a sliced browse or search result.
type Result struct {
	Nodes          []models.MediaNode
	NumberReturned int
	TotalMatches   int
	UpdateID       string
}

// Service answers ContentDirectory actions from a library index.
type Service struct {
	index   *library.Index
	baseURL string
	logger  zerolog.Logger
}

// NewService creates the service. baseURL prefixes stream and artwork URLs.
func NewService(index *library.Index, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		index:   index,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "contentdir").Logger(),
	}
}

// Browse returns metadata or the direct children of objectID, sorted and sliced.
func (s *Service) Browse(objectID string, flag BrowseFlag, start, count int, sortCriteria string) Result {
	var nodes []models.MediaNode
	switch flag {
	case BrowseMetadata:
		if node, ok := s.index.BrowseMeta(objectID); ok {
			nodes = []models.MediaNode{node}
		} else {
			s.logger.Debug().Str("object_id", objectID).Msg("browse metadata for unknown object")
		}
	default:
		nodes = s.index.BrowseChildren(objectID)
	}
	return page(nodes, start, count, sortCriteria)
}

// Search returns the items beneath containerID matching criteria.
func (s *Service) Search(containerID, criteria string, start, count int, sortCriteria string) Result {
	hits := s.index.Search(containerID, criteria)
	nodes := make([]models.MediaNode, len(hits))
	for i := range hits {
		nodes[i] = &hits[i]
	}
	return page(nodes, start, count, sortCriteria)
}

func page(nodes []models.MediaNode, start, count int, sortCriteria string) Result {
	if count <= 0 {
		count = DefaultRequestedCount
	}
	if start < 0 {
		start = 0
	}
	sorting.Sort(nodes, sortCriteria)

	total := len(nodes)
	lo := min(start, total)
	hi := total
	if count < total-lo {
		hi = lo + count
	}
	sliced := nodes[lo:hi]
	return Result{
		Nodes:          sliced,
		NumberReturned: len(sliced),
		TotalMatches:   total,
	}
}

// Document serializes a result into DIDL-Lite.
func (s *Service) Document(r Result) (string, error) {
	return Feed(s.baseURL, r.Nodes)
}

// GetSortCapabilities returns the comma joined sort tokens.
func (s *Service) GetSortCapabilities() string {
	return strings.Join(sorting.Capabilities(), ",")
}

// GetSearchCapabilities is not negotiated.
func (s *Service) GetSearchCapabilities() string { return "" }

// GetSystemUpdateID is not tracked.
func (s *Service) GetSystemUpdateID() string { return "" }

// BaseURL returns the URL prefix used for resources.
func (s *Service) BaseURL() string { return s.baseURL }
