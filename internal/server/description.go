/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"bytes"
	"crypto/md5"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"github.com/anacrolix/dms/upnp"
	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/mediabridge/internal/dispatch"
	"github.com/friendsincode/mediabridge/internal/version"
)

const (
	rootDescPath    = "/rootDesc.xml"
	controlPath     = "/ctl"
	scpdPrefix      = "/scpd/"
	eventPrefix     = "/evt/"
	genaCallbackURL = "/gena/callback"
)

const (
	mediaServerType   = "urn:schemas-upnp-org:device:MediaServer:1"
	mediaRendererType = "urn:schemas-upnp-org:device:MediaRenderer:1"
)

// Services per device. The renderer is an embedded device of the server.
var (
	serverServices   = []string{"ContentDirectory", "ConnectionManager"}
	rendererServices = []string{"AVTransport", "RenderingControl"}
)

var rootDescTmpl = template.Must(template.New("rootDesc").Parse(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion>
    <major>1</major>
    <minor>0</minor>
  </specVersion>
  <device>
    <deviceType>{{.Server.Type}}</deviceType>
    <friendlyName>{{html .Server.FriendlyName}}</friendlyName>
    <manufacturer>Friends Incode</manufacturer>
    <modelName>{{.Product}}</modelName>
    <modelNumber>{{.Version}}</modelNumber>
    <UDN>{{.Server.UDN}}</UDN>
    <serviceList>{{range .Server.Services}}
      <service>
        <serviceType>{{.Type}}</serviceType>
        <serviceId>{{.ID}}</serviceId>
        <SCPDURL>{{.SCPDURL}}</SCPDURL>
        <controlURL>{{.ControlURL}}</controlURL>
        <eventSubURL>{{.EventSubURL}}</eventSubURL>
      </service>{{end}}
    </serviceList>
    <deviceList>
      <device>
        <deviceType>{{.Renderer.Type}}</deviceType>
        <friendlyName>{{html .Renderer.FriendlyName}}</friendlyName>
        <manufacturer>Friends Incode</manufacturer>
        <modelName>{{.Product}}</modelName>
        <modelNumber>{{.Version}}</modelNumber>
        <UDN>{{.Renderer.UDN}}</UDN>
        <serviceList>{{range .Renderer.Services}}
          <service>
            <serviceType>{{.Type}}</serviceType>
            <serviceId>{{.ID}}</serviceId>
            <SCPDURL>{{.SCPDURL}}</SCPDURL>
            <controlURL>{{.ControlURL}}</controlURL>
            <eventSubURL>{{.EventSubURL}}</eventSubURL>
          </service>{{end}}
        </serviceList>
      </device>
    </deviceList>
    <presentationURL>/</presentationURL>
  </device>
</root>
`))

type serviceDesc struct {
	Type        string
	ID          string
	SCPDURL     string
	ControlURL  string
	EventSubURL string
}

type deviceDesc struct {
	Type         string
	FriendlyName string
	UDN          string
	Services     []serviceDesc
}

type rootDesc struct {
	Product  string
	Version  string
	Server   deviceDesc
	Renderer deviceDesc
}

// makeDeviceUUID derives a stable UDN from a unique string so a restarted
// server keeps its identity on the network.
func makeDeviceUUID(unique string) string {
	h := md5.New()
	_, _ = io.WriteString(h, unique)
	return upnp.FormatUUID(h.Sum(nil))
}

func describeServices(d *dispatch.Dispatcher, names []string) []serviceDesc {
	out := make([]serviceDesc, 0, len(names))
	for _, name := range names {
		t, ok := d.Table(name)
		if !ok {
			continue
		}
		out = append(out, serviceDesc{
			Type:        t.Type,
			ID:          t.ID,
			SCPDURL:     scpdPrefix + name + ".xml",
			ControlURL:  controlPath,
			EventSubURL: eventPrefix + name,
		})
	}
	return out
}

func newRootDesc(friendlyName string, d *dispatch.Dispatcher) rootDesc {
	return rootDesc{
		Product: version.Product,
		Version: version.Version,
		Server: deviceDesc{
			Type:         mediaServerType,
			FriendlyName: friendlyName,
			UDN:          makeDeviceUUID(friendlyName),
			Services:     describeServices(d, serverServices),
		},
		Renderer: deviceDesc{
			Type:         mediaRendererType,
			FriendlyName: friendlyName + " (renderer)",
			UDN:          makeDeviceUUID(friendlyName + "/renderer"),
			Services:     describeServices(d, rendererServices),
		},
	}
}

func (d rootDesc) render() ([]byte, error) {
	var buf bytes.Buffer
	if err := rootDescTmpl.Execute(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleRootDesc(w http.ResponseWriter, r *http.Request) {
	body, err := s.desc.render()
	if err != nil {
		s.logger.Error().Err(err).Msg("render root description failed")
		http.Error(w, "failed to render root description", http.StatusInternalServerError)
		return
	}
	writeXML(w, body)
}

func (s *Server) handleSCPD(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(chi.URLParam(r, "service"), ".xml")
	t, ok := s.dispatcher.Table(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, err := t.SCPD()
	if err != nil {
		s.logger.Error().Err(err).Str("service", name).Msg("render scpd failed")
		http.Error(w, "failed to render service description", http.StatusInternalServerError)
		return
	}
	writeXML(w, body)
}

func writeXML(w http.ResponseWriter, body []byte) {
	w.Header().Set("content-type", `text/xml; charset="utf-8"`)
	w.Header().Set("cache-control", "private, max-age=60")
	w.Header().Set("content-length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}
