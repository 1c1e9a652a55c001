/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/anacrolix/dms/soap"
	"github.com/anacrolix/dms/upnp"

	"github.com/friendsincode/mediabridge/internal/upnpclient"
)

const maxRequestSize = 1 << 20

// ControlHandler serves SOAP action requests for every local service. The
// service is selected by the SOAPACTION header.
func (d *Dispatcher) ControlHandler() http.Handler {
	return http.HandlerFunc(d.serveControl)
}

func (d *Dispatcher) serveControl(w http.ResponseWriter, r *http.Request) {
	sa, err := upnp.ParseActionHTTPHeader(r.Header.Get("SOAPACTION"))
	if err != nil {
		d.logger.Debug().Err(err).Msg("bad SOAPACTION header")
		http.Error(w, "could not parse SOAPACTION header", http.StatusBadRequest)
		return
	}
	var env soap.Envelope
	if err := xml.NewDecoder(io.LimitReader(r.Body, maxRequestSize)).Decode(&env); err != nil {
		http.Error(w, "could not parse SOAP request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.Header().Set("Ext", "")
	respXML, code := func() ([]byte, int) {
		_, args, err := upnpclient.DecodeArgs(env.Body.Action)
		if err == nil {
			var out map[string]string
			out, err = d.Dispatch(r.Context(), sa.Type, sa.Action, args)
			if err == nil {
				body, merr := marshalSOAPResponse(sa, out, d.outputOrder(sa.Type, sa.Action))
				if merr == nil {
					return body, http.StatusOK
				}
				err = merr
			}
		}
		d.logger.Debug().Err(err).Str("action", sa.Action).Msg("SOAP action failed")
		fault, ferr := xml.Marshal(soap.NewFault("UPnPError", upnp.ConvertError(err)))
		if ferr != nil {
			return nil, http.StatusInternalServerError
		}
		return fault, http.StatusInternalServerError
	}()

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8" standalone="yes"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	buf.Write(respXML)
	buf.WriteString(`</s:Body></s:Envelope>`)
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		d.logger.Debug().Err(err).Msg("write SOAP response")
	}
}

// marshalSOAPResponse renders the response arguments in declared order.
func marshalSOAPResponse(sa upnp.SoapAction, args map[string]string, order []string) ([]byte, error) {
	soapArgs := make([]soap.Arg, 0, len(order))
	for _, name := range order {
		soapArgs = append(soapArgs, soap.Arg{
			XMLName: xml.Name{Local: name},
			Value:   args[name],
		})
	}
	body, err := xml.Marshal(soapArgs)
	if err != nil {
		return nil, fmt.Errorf("marshal %s response: %w", sa.Action, err)
	}
	return []byte(fmt.Sprintf(`<u:%[1]sResponse xmlns:u="%[2]s">%[3]s</u:%[1]sResponse>`,
		sa.Action, sa.ServiceURN.String(), body)), nil
}
