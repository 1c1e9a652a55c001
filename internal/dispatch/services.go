/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/anacrolix/dms/upnp"

	"github.com/friendsincode/mediabridge/internal/contentdir"
	"github.com/friendsincode/mediabridge/internal/transport"
)

const argumentValueInvalid = 600

type contentDirectoryService struct {
	cd *contentdir.Service
}

func atoiDefault(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func (s *contentDirectoryService) result(r contentdir.Result) (map[string]string, error) {
	doc, err := s.cd.Document(r)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Result":         doc,
		"NumberReturned": strconv.Itoa(r.NumberReturned),
		"TotalMatches":   strconv.Itoa(r.TotalMatches),
		"UpdateID":       r.UpdateID,
	}, nil
}

func (s *contentDirectoryService) Handle(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	switch action {
	case "Browse":
		flag := contentdir.BrowseFlag(args["BrowseFlag"])
		if flag != contentdir.BrowseMetadata && flag != contentdir.BrowseDirectChildren {
			return nil, upnp.Errorf(argumentValueInvalid, "invalid BrowseFlag %q", args["BrowseFlag"])
		}
		return s.result(s.cd.Browse(args["ObjectID"], flag,
			atoiDefault(args["StartingIndex"]), atoiDefault(args["RequestedCount"]), args["SortCriteria"]))
	case "Search":
		return s.result(s.cd.Search(args["ContainerID"], args["SearchCriteria"],
			atoiDefault(args["StartingIndex"]), atoiDefault(args["RequestedCount"]), args["SortCriteria"]))
	case "GetSortCapabilities":
		return map[string]string{"SortCaps": s.cd.GetSortCapabilities()}, nil
	case "GetSearchCapabilities":
		return map[string]string{"SearchCaps": s.cd.GetSearchCapabilities()}, nil
	case "GetSystemUpdateID":
		return map[string]string{"Id": s.cd.GetSystemUpdateID()}, nil
	}
	return nil, upnp.InvalidActionError
}

type avTransportService struct {
	machine *transport.Machine
}

func (s *avTransportService) Handle(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	m := s.machine
	switch action {
	case "GetCurrentTransportActions":
		return m.CurrentTransportActions(), nil
	case "GetDeviceCapabilities":
		return m.DeviceCapabilities(), nil
	case "GetMediaInfo":
		return m.MediaInfo(), nil
	case "GetPositionInfo":
		return m.PositionInfo(), nil
	case "GetTransportInfo":
		return m.TransportInfo(), nil
	case "GetTransportSettings":
		return m.TransportSettings(), nil
	case "Play":
		return nil, m.Play()
	case "Pause":
		return nil, m.Pause()
	case "Stop":
		return nil, m.Stop()
	case "Seek":
		return nil, m.Seek(args["Unit"], args["Target"])
	case "SetAVTransportURI":
		return nil, m.SetAVTransportURI(ctx, args["CurrentURI"], args["CurrentURIMetaData"])
	case "Next", "Previous", "SetNextAVTransportURI", "SetPlayMode":
		// accepted, no effect
		return nil, nil
	}
	return nil, upnp.InvalidActionError
}

type renderingControlService struct {
	machine *transport.Machine
}

func (s *renderingControlService) Handle(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	switch action {
	case "GetVolume":
		return map[string]string{"CurrentVolume": strconv.Itoa(s.machine.Volume())}, nil
	case "SetVolume":
		if err := s.machine.SetVolume(args["DesiredVolume"]); err != nil {
			return nil, upnp.Errorf(argumentValueInvalid, "%s", err.Error())
		}
		return nil, nil
	}
	return nil, upnp.InvalidActionError
}

type connectionManagerService struct{}

func (connectionManagerService) Handle(ctx context.Context, action string, args map[string]string) (map[string]string, error) {
	switch action {
	case "GetProtocolInfo":
		return map[string]string{"Source": sourceProtocolInfo(), "Sink": ""}, nil
	case "GetCurrentConnectionIDs":
		return map[string]string{"ConnectionIDs": "0"}, nil
	}
	return nil, upnp.InvalidActionError
}

func sourceProtocolInfo() string {
	formats := []string{contentdir.FormatFLAC, contentdir.FormatMP3, contentdir.FormatWAV}
	infos := make([]string, 0, len(formats))
	for _, f := range formats {
		infos = append(infos, "http-get:*:"+contentdir.MimeType(f)+":*")
	}
	return strings.Join(infos, ",")
}
