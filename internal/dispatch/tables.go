/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	_ "embed"
	"encoding/xml"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed scpd.yaml
var scpdYAML []byte

// Argument binds an action argument to its related state variable.
type Argument struct {
	Name     string `yaml:"name"`
	Variable string `yaml:"var"`
}

// ActionDef declares one action.
type ActionDef struct {
	Name string     `yaml:"name"`
	In   []Argument `yaml:"in"`
	Out  []Argument `yaml:"out"`
}

// VariableDef declares one state variable.
type VariableDef struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Events  bool     `yaml:"events"`
	Default string   `yaml:"default"`
	Values  []string `yaml:"values"`
}

// ServiceTable is the static description of one service.
type ServiceTable struct {
	Name      string        `yaml:"name"`
	Type      string        `yaml:"type"`
	ID        string        `yaml:"id"`
	Actions   []ActionDef   `yaml:"actions"`
	Variables []VariableDef `yaml:"variables"`

	byName map[string]*ActionDef
}

// Action returns the named action.
func (t *ServiceTable) Action(name string) (*ActionDef, bool) {
	a, ok := t.byName[name]
	return a, ok
}

// EventedDefaults returns the initial value of every evented variable.
func (t *ServiceTable) EventedDefaults() map[string]string {
	out := make(map[string]string)
	for _, v := range t.Variables {
		if v.Events {
			out[v.Name] = v.Default
		}
	}
	return out
}

var (
	tablesOnce sync.Once
	tables     []*ServiceTable
	tablesErr  error
)

// Tables returns the embedded service tables in declaration order.
func Tables() ([]*ServiceTable, error) {
	tablesOnce.Do(func() {
		tables, tablesErr = parseTables(scpdYAML)
	})
	return tables, tablesErr
}

func parseTables(data []byte) ([]*ServiceTable, error) {
	var out []*ServiceTable
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse service tables: %w", err)
	}
	for _, t := range out {
		vars := make(map[string]bool, len(t.Variables))
		for _, v := range t.Variables {
			vars[v.Name] = true
		}
		t.byName = make(map[string]*ActionDef, len(t.Actions))
		for i := range t.Actions {
			a := &t.Actions[i]
			for _, arg := range append(append([]Argument(nil), a.In...), a.Out...) {
				if !vars[arg.Variable] {
					return nil, fmt.Errorf("%s.%s: argument %s references unknown variable %s", t.Name, a.Name, arg.Name, arg.Variable)
				}
			}
			t.byName[a.Name] = a
		}
	}
	return out, nil
}

type xmlSpecVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type xmlArgument struct {
	Name      string `xml:"name"`
	Direction string `xml:"direction"`
	Related   string `xml:"relatedStateVariable"`
}

type xmlAction struct {
	Name      string        `xml:"name"`
	Arguments []xmlArgument `xml:"argumentList>argument,omitempty"`
}

type xmlStateVariable struct {
	SendEvents    string   `xml:"sendEvents,attr"`
	Name          string   `xml:"name"`
	DataType      string   `xml:"dataType"`
	Default       string   `xml:"defaultValue,omitempty"`
	AllowedValues []string `xml:"allowedValueList>allowedValue,omitempty"`
}

type xmlSCPD struct {
	XMLName     xml.Name           `xml:"urn:schemas-upnp-org:service-1-0 scpd"`
	SpecVersion xmlSpecVersion     `xml:"specVersion"`
	Actions     []xmlAction        `xml:"actionList>action"`
	Variables   []xmlStateVariable `xml:"serviceStateTable>stateVariable"`
}

// SCPD renders the service description document.
func (t *ServiceTable) SCPD() ([]byte, error) {
	doc := xmlSCPD{SpecVersion: xmlSpecVersion{Major: 1, Minor: 0}}
	for _, a := range t.Actions {
		xa := xmlAction{Name: a.Name}
		for _, arg := range a.In {
			xa.Arguments = append(xa.Arguments, xmlArgument{Name: arg.Name, Direction: "in", Related: arg.Variable})
		}
		for _, arg := range a.Out {
			xa.Arguments = append(xa.Arguments, xmlArgument{Name: arg.Name, Direction: "out", Related: arg.Variable})
		}
		doc.Actions = append(doc.Actions, xa)
	}
	for _, v := range t.Variables {
		events := "no"
		if v.Events {
			events = "yes"
		}
		doc.Variables = append(doc.Variables, xmlStateVariable{
			SendEvents:    events,
			Name:          v.Name,
			DataType:      v.Type,
			Default:       v.Default,
			AllowedValues: v.Values,
		})
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render %s scpd: %w", t.Name, err)
	}
	return append([]byte(xml.Header), body...), nil
}
