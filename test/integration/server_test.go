/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/config"
	"github.com/friendsincode/mediabridge/internal/contentdir"
	"github.com/friendsincode/mediabridge/internal/discovery"
	"github.com/friendsincode/mediabridge/internal/models"
	"github.com/friendsincode/mediabridge/internal/server"
	"github.com/friendsincode/mediabridge/internal/upnpclient"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	curated := filepath.Join(dir, "curated", "Party")
	if err := os.MkdirAll(curated, 0o755); err != nil {
		t.Fatal(err)
	}
	items := []models.MediaItem{{Path: "Curated/Party/First", FilePath: "/music/a.flac", Title: "First"}}
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(curated, "index.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Environment:       "test",
		HTTPBind:          "127.0.0.1",
		HTTPPort:          8200,
		BaseURL:           "http://127.0.0.1:8200",
		DBBackend:         config.DatabaseSQLite,
		DBDSN:             filepath.Join(dir, "mediabridge.db"),
		MediaRoots:        []string{filepath.Join(dir, "media")},
		CuratedRoot:       filepath.Join(dir, "curated"),
		ArtworkCacheDir:   filepath.Join(dir, "artwork"),
		ScanWorkers:       1,
		FriendlyName:      "Integration Bridge",
		DiscoveryDebounce: 10 * time.Millisecond,
		PollTimeout:       time.Second,
		EventBus:          config.EventBusMemory,
	}
	srv, err := server.New(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.HTTPServer().Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts
}

func describe(t *testing.T, ts *httptest.Server) map[models.ServiceKind]models.DiscoveredService {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	services, err := discovery.NewDescriber(ts.Client(), time.Minute).Describe(ctx, ts.URL+"/rootDesc.xml")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	out := make(map[models.ServiceKind]models.DiscoveredService, len(services))
	for _, svc := range services {
		out[svc.Kind()] = svc
	}
	return out
}

func TestServerDescribesAndBrowses(t *testing.T) {
	ts := startServer(t)
	services := describe(t, ts)
	if len(services) != 4 {
		t.Fatalf("expected 4 services, got %+v", services)
	}

	client := upnpclient.New(upnpclient.Options{Timeout: 5 * time.Second}, zerolog.Nop())
	cd := services[models.KindContentDirectory]

	// Curated lists load in the background.
	deadline := time.Now().Add(5 * time.Second)
	for {
		out, err := client.Invoke(context.Background(), cd, "Browse", map[string]string{
			"ObjectID":       "0",
			"BrowseFlag":     "BrowseDirectChildren",
			"Filter":         "*",
			"StartingIndex":  "0",
			"RequestedCount": "0",
			"SortCriteria":   "",
		})
		if err != nil {
			t.Fatalf("browse: %v", err)
		}
		entries, err := contentdir.Parse(out["Result"])
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if e.Title == "Curated" && e.IsContainer() {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("curated container never appeared: %+v", entries)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestServerTransportAndProtocolInfo(t *testing.T) {
	ts := startServer(t)
	services := describe(t, ts)
	client := upnpclient.New(upnpclient.Options{Timeout: 5 * time.Second}, zerolog.Nop())
	ctx := context.Background()

	info, err := client.Invoke(ctx, services[models.KindAVTransport], "GetTransportInfo", map[string]string{"InstanceID": "0"})
	if err != nil {
		t.Fatalf("GetTransportInfo: %v", err)
	}
	if info["CurrentTransportState"] != string(models.TransportNoMediaPresent) {
		t.Fatalf("unexpected transport info %v", info)
	}

	proto, err := client.Invoke(ctx, services[models.KindConnectionManager], "GetProtocolInfo", nil)
	if err != nil {
		t.Fatalf("GetProtocolInfo: %v", err)
	}
	if proto["Source"] == "" {
		t.Fatalf("expected source protocols, got %v", proto)
	}
}

func TestServerHealthz(t *testing.T) {
	ts := startServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
		Items  int    `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Items != 0 {
		t.Fatalf("unexpected health %+v", body)
	}
}
