/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// TransportState enumerates AVTransport states.
type TransportState string

const (
	TransportStopped        TransportState = "STOPPED"
	TransportPlaying        TransportState = "PLAYING"
	TransportPaused         TransportState = "PAUSED_PLAYBACK"
	TransportPausedRecord   TransportState = "PAUSED_RECORDING"
	TransportRecording      TransportState = "RECORDING"
	TransportTransitioning  TransportState = "TRANSITIONING"
	TransportNoMediaPresent TransportState = "NO_MEDIA_PRESENT"
)

// PlayingState is the cached playback state of one renderer location.
type PlayingState struct {
	Location   string         `gorm:"primaryKey;type:varchar(512)" json:"location"`
	Track      *MediaItem     `gorm:"serializer:json" json:"playingTrack,omitempty"`
	Queue      []MediaItem    `gorm:"serializer:json" json:"playingQueue"`
	InstanceID string         `gorm:"type:varchar(32)" json:"playingInstanceID"`
	State      TransportState `gorm:"type:varchar(32)" json:"playingState"`
	Time       float64        `json:"playingTime"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// IndexOfTrack returns the position of the current track in the queue, or -1.
func (s *PlayingState) IndexOfTrack() int {
	if s.Track == nil {
		return -1
	}
	for i := range s.Queue {
		if s.Queue[i].ID == s.Track.ID {
			return i
		}
	}
	return -1
}

// StateUpdate is a partial PlayingState sent by UI clients.
type StateUpdate struct {
	Track      *MediaItem      `json:"playingTrack,omitempty"`
	Queue      *[]MediaItem    `json:"playingQueue,omitempty"`
	InstanceID *string         `json:"playingInstanceID,omitempty"`
	State      *TransportState `json:"playingState,omitempty"`
	Time       *float64        `json:"playingTime,omitempty"`
}

// Apply merges the non-nil fields of u into s.
func (u StateUpdate) Apply(s *PlayingState) {
	if u.Track != nil {
		t := *u.Track
		s.Track = &t
	}
	if u.Queue != nil {
		s.Queue = append([]MediaItem(nil), (*u.Queue)...)
	}
	if u.InstanceID != nil {
		s.InstanceID = *u.InstanceID
	}
	if u.State != nil {
		s.State = *u.State
	}
	if u.Time != nil {
		s.Time = *u.Time
	}
}

// Empty reports whether u carries no fields.
func (u StateUpdate) Empty() bool {
	return u.Track == nil && u.Queue == nil && u.InstanceID == nil && u.State == nil && u.Time == nil
}
