/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upnpclient

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/anacrolix/dms/soap"
	"github.com/anacrolix/dms/upnp"
)

const envelopeHead = `<?xml version="1.0" encoding="utf-8"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`
const envelopeTail = `</s:Body></s:Envelope>`

// buildEnvelope renders an action request. Arguments listed in order come
// first in that order; any others follow sorted by name.
func buildEnvelope(serviceType, action string, args map[string]string, order []string) ([]byte, error) {
	soapArgs := make([]soap.Arg, 0, len(args))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		seen[name] = true
		soapArgs = append(soapArgs, soap.Arg{XMLName: xml.Name{Local: name}, Value: args[name]})
	}
	var extra []string
	for name := range args {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		soapArgs = append(soapArgs, soap.Arg{XMLName: xml.Name{Local: name}, Value: args[name]})
	}

	body, err := xml.Marshal(soapArgs)
	if err != nil {
		return nil, fmt.Errorf("marshal %s arguments: %w", action, err)
	}
	var buf bytes.Buffer
	buf.WriteString(envelopeHead)
	fmt.Fprintf(&buf, `<u:%[1]s xmlns:u="%[2]s">`, action, serviceType)
	buf.Write(body)
	fmt.Fprintf(&buf, `</u:%s>`, action)
	buf.WriteString(envelopeTail)
	return buf.Bytes(), nil
}

// DecodeArgs reads the first element of raw and returns its local name and
// the text of each direct child keyed by child name.
func DecodeArgs(raw []byte) (string, map[string]string, error) {
	d := xml.NewDecoder(bytes.NewReader(raw))
	var name string
	for name == "" {
		tok, err := d.Token()
		if err == io.EOF {
			return "", nil, errors.New("no action element")
		}
		if err != nil {
			return "", nil, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			name = se.Name.Local
		}
	}

	args := make(map[string]string)
	for {
		tok, err := d.Token()
		if err != nil {
			return "", nil, fmt.Errorf("decode %s: %w", name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v string
			if err := d.DecodeElement(&v, &t); err != nil {
				return "", nil, fmt.Errorf("decode %s.%s: %w", name, t.Name.Local, err)
			}
			args[t.Name.Local] = v
		case xml.EndElement:
			return name, args, nil
		}
	}
}

type xmlFault struct {
	Detail struct {
		UPnPError struct {
			Code uint   `xml:"errorCode"`
			Desc string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
	FaultString string `xml:"faultstring"`
}

// decodeResponse parses a SOAP response envelope into output arguments.
// Faults become *upnp.Error values.
func decodeResponse(action string, body []byte) (map[string]string, error) {
	var env soap.Envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse %s response: %w", action, err)
	}
	name, args, err := DecodeArgs(env.Body.Action)
	if err != nil {
		return nil, fmt.Errorf("parse %s response: %w", action, err)
	}
	if name == "Fault" {
		var f xmlFault
		if err := xml.Unmarshal(env.Body.Action, &f); err != nil {
			return nil, fmt.Errorf("parse %s fault: %w", action, err)
		}
		if f.Detail.UPnPError.Code != 0 {
			return nil, upnp.Errorf(f.Detail.UPnPError.Code, "%s", f.Detail.UPnPError.Desc)
		}
		return nil, fmt.Errorf("%s fault: %s", action, f.FaultString)
	}
	return args, nil
}
