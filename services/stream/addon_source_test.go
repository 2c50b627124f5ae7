package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"streamforge/models"
	"streamforge/services/reqctx"
)

func addonContext(t *testing.T) *reqctx.Context {
	t.Helper()
	id, err := models.ParseContentID("tt0000001:2:3")
	if err != nil {
		t.Fatalf("parse id: %v", err)
	}
	return reqctx.New(models.MediaTypeSeries, id, &models.UserData{}, &fakeProvider{})
}

func TestAddonSourceFetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"streams":[
			{"name":"Indexer\n1080p","title":"Show.S02E03.1080p.WEB-DL\n👤 42 💾 1.5 GB","infoHash":"` + testHash + `","fileIdx":2,
			 "sources":["tracker:udp://tracker.example:1337"],"behaviorHints":{"videoSize":1500000000}},
			{"name":"Usenet","title":"Show.S02E03.720p","url":"https://indexer.example/get/abc.nzb?apikey=secret",
			 "behaviorHints":{"filename":"Show.S02E03.720p.mkv","videoSize":900000000}},
			{"name":"HTTP","title":"direct link only","url":"https://cdn.example/file.mkv"}
		]}`))
	}))
	defer srv.Close()

	source := NewAddonSource("my-addon", srv.URL, srv.Client())
	torrents, nzbs, err := source.Fetch(context.Background(), addonContext(t))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/stream/series/tt0000001:2:3.json" {
		t.Errorf("path = %q", gotPath)
	}

	if len(torrents) != 1 {
		t.Fatalf("torrents = %+v", torrents)
	}
	tor := torrents[0]
	if tor.Hash != testHash || tor.FileIndex != 2 || tor.Seeders != 42 {
		t.Errorf("torrent = %+v", tor)
	}
	if tor.AddonID != "my-addon" || tor.Indexer != "my-addon" {
		t.Errorf("addon identity = %q/%q", tor.AddonID, tor.Indexer)
	}
	if tor.Title != "Show.S02E03.1080p.WEB-DL" {
		t.Errorf("title = %q", tor.Title)
	}
	if tor.SizeBytes != 1_500_000_000 || len(tor.TrackerSources) != 1 {
		t.Errorf("torrent = %+v", tor)
	}

	// The bare HTTP stream has neither an info hash nor an NZB URL.
	if len(nzbs) != 1 {
		t.Fatalf("nzbs = %+v", nzbs)
	}
	if nzbs[0].Title != "Show.S02E03.720p.mkv" || nzbs[0].NZBURL == "" {
		t.Errorf("nzb = %+v", nzbs[0])
	}
}

func TestAddonSourceNzbHashIgnoresQuery(t *testing.T) {
	a := nzbHash("https://indexer.example/get/abc.nzb?apikey=one")
	b := nzbHash("https://indexer.example/get/abc.nzb?apikey=two")
	if a != b {
		t.Errorf("hashes differ: %q vs %q", a, b)
	}
	if a == nzbHash("https://indexer.example/get/def.nzb") {
		t.Error("distinct URLs should hash differently")
	}
}

func TestAddonSourceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	source := NewAddonSource("my-addon", srv.URL, srv.Client())
	if _, _, err := source.Fetch(context.Background(), addonContext(t)); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
