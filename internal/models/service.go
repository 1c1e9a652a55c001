/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "strings"

// ServiceKind classifies UPnP services the controller understands.
type ServiceKind string

const (
	KindContentDirectory  ServiceKind = "ContentDirectory"
	KindAVTransport       ServiceKind = "AVTransport"
	KindRenderingControl  ServiceKind = "RenderingControl"
	KindConnectionManager ServiceKind = "ConnectionManager"
)

// Service type URNs.
const (
	ServiceContentDirectory  = "urn:schemas-upnp-org:service:ContentDirectory:1"
	ServiceAVTransport       = "urn:schemas-upnp-org:service:AVTransport:1"
	ServiceRenderingControl  = "urn:schemas-upnp-org:service:RenderingControl:1"
	ServiceConnectionManager = "urn:schemas-upnp-org:service:ConnectionManager:1"
)

// KnownServiceTypes lists the service types tracked by discovery.
var KnownServiceTypes = []string{
	ServiceRenderingControl,
	ServiceAVTransport,
	ServiceContentDirectory,
	ServiceConnectionManager,
}

// Icon is a device icon from a device description.
type Icon struct {
	MimeType string `json:"mimetype"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Depth    int    `json:"depth"`
	URL      string `json:"url"`
}

// DiscoveredService is a remote service seen on the network.
type DiscoveredService struct {
	Location             string `json:"location"`
	ServiceType          string `json:"serviceType"`
	ServiceID            string `json:"serviceId,omitempty"`
	FriendlyName         string `json:"friendlyName"`
	Manufacturer         string `json:"manufacturer,omitempty"`
	ModelName            string `json:"modelName,omitempty"`
	UDN                  string `json:"udn,omitempty"`
	Icons                []Icon `json:"icons,omitempty"`
	DeviceDescriptionURL string `json:"descriptionUrl"`
	ControlURL           string `json:"controlUrl"`
	EventSubURL          string `json:"eventSubUrl,omitempty"`
	SCPDURL              string `json:"scpdUrl,omitempty"`
}

// Kind classifies the service by its type URN. Unknown types yield "".
func (s DiscoveredService) Kind() ServiceKind {
	return KindOf(s.ServiceType)
}

// KindOf classifies a service type URN.
func KindOf(serviceType string) ServiceKind {
	for _, k := range []ServiceKind{KindContentDirectory, KindAVTransport, KindRenderingControl, KindConnectionManager} {
		if strings.Contains(serviceType, ":service:"+string(k)+":") {
			return k
		}
	}
	return ""
}
