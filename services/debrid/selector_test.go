package debrid

import (
	"testing"

	"streamforge/models"
)

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		name string
		file models.DebridFile
		want bool
	}{
		{"mkv", models.DebridFile{Name: "movie.mkv"}, true},
		{"mp4", models.DebridFile{Name: "movie.MP4"}, true},
		{"subtitle", models.DebridFile{Name: "movie.srt"}, false},
		{"nfo", models.DebridFile{Name: "release.nfo"}, false},
		{"video mime with odd extension", models.DebridFile{Name: "stream.bin", MimeType: "video/mp4"}, true},
		{"blocklist wins over mime", models.DebridFile{Name: "movie.srt", MimeType: "video/mp4"}, false},
		{"archive", models.DebridFile{Name: "release.rar"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsVideoFile(tc.file); got != tc.want {
				t.Errorf("IsVideoFile(%q) = %v, want %v", tc.file.Name, got, tc.want)
			}
		})
	}
}

func TestSelectFilePrefersEpisodeOverSample(t *testing.T) {
	download := &models.DebridDownload{
		ID:     "1",
		Status: models.StatusCached,
		Files: []models.DebridFile{
			{Index: 0, Name: "Show.S02E03.1080p.x264-GRP.mkv", Size: 1_500_000_000},
			{Index: 1, Name: "Show.S02E03.sample.mkv", Size: 50_000_000},
		},
	}
	sel := SelectFile(download, SelectionRequest{Season: 2, Episode: 3, ChosenIndex: -1})
	if sel.Reason != "" {
		t.Fatalf("unexpected rejection: %s", sel.Reason)
	}
	if sel.File.Index != 0 {
		t.Errorf("selected index %d, want 0", sel.File.Index)
	}
	if sel.File.Size != 1_500_000_000 {
		t.Errorf("selected size %d", sel.File.Size)
	}
}

func TestSelectFileEmptyFilesReturnsStub(t *testing.T) {
	download := &models.DebridDownload{ID: "1", Name: "Show.S02.1080p", Size: 9_000_000_000}
	sel := SelectFile(download, SelectionRequest{Season: 2, Episode: 3, ChosenIndex: -1})
	if sel.Reason != "" {
		t.Fatalf("stub should not be a rejection: %s", sel.Reason)
	}
	if sel.File.Index != -1 || sel.File.Name != "Show.S02.1080p" || sel.File.Size != 9_000_000_000 {
		t.Errorf("stub = %+v", sel.File)
	}
}

func TestSelectFileSampleOnlyWhenNothingElse(t *testing.T) {
	download := &models.DebridDownload{
		ID: "1",
		Files: []models.DebridFile{
			{Index: 0, Name: "release.nfo", Size: 1_000},
			{Index: 1, Name: "Movie.2020.sample.mkv", Size: 40_000_000},
		},
	}
	sel := SelectFile(download, SelectionRequest{ChosenIndex: -1})
	if sel.Reason != "" {
		t.Fatalf("unexpected rejection: %s", sel.Reason)
	}
	if sel.File.Index != 1 {
		t.Errorf("selected index %d, want the sample as last resort", sel.File.Index)
	}
}

func TestSelectFileNoVideoFiles(t *testing.T) {
	download := &models.DebridDownload{
		ID: "1",
		Files: []models.DebridFile{
			{Index: 0, Name: "release.nfo", Size: 1_000},
			{Index: 1, Name: "subs.srt", Size: 50_000},
		},
	}
	sel := SelectFile(download, SelectionRequest{ChosenIndex: -1})
	if sel.Reason == "" {
		t.Fatal("expected a rejection reason")
	}
}

func TestSelectFileAbsoluteEpisode(t *testing.T) {
	download := &models.DebridDownload{
		ID: "1",
		Files: []models.DebridFile{
			{Index: 0, Name: "[Grp] Show - 36 (1080p).mkv", Size: 1_400_000_000},
			{Index: 1, Name: "[Grp] Show - 37 (1080p).mkv", Size: 1_400_000_000},
		},
	}
	sel := SelectFile(download, SelectionRequest{
		Season:          3,
		Episode:         1,
		AbsoluteEpisode: 37,
		ChosenIndex:     -1,
	})
	if sel.Reason != "" {
		t.Fatalf("unexpected rejection: %s", sel.Reason)
	}
	if sel.File.Index != 1 {
		t.Errorf("selected index %d, want 1 (absolute episode 37)", sel.File.Index)
	}
}

func TestSelectFileSeasonPack(t *testing.T) {
	download := &models.DebridDownload{
		ID: "1",
		Files: []models.DebridFile{
			{Index: 0, Name: "Show.S01E01.1080p.x264-GRP.mkv", Size: 1_000_000_000},
			{Index: 1, Name: "Show.S01E02.1080p.x264-GRP.mkv", Size: 1_000_000_000},
			{Index: 2, Name: "Show.S01E03.1080p.x264-GRP.mkv", Size: 1_000_000_000},
		},
	}
	sel := SelectFile(download, SelectionRequest{Season: 1, Episode: 2, ChosenIndex: -1})
	if sel.Reason != "" {
		t.Fatalf("unexpected rejection: %s", sel.Reason)
	}
	if sel.File.Index != 1 {
		t.Errorf("selected index %d, want 1", sel.File.Index)
	}
}

func TestSelectFileEpisodeReassertion(t *testing.T) {
	download := &models.DebridDownload{
		ID: "1",
		Files: []models.DebridFile{
			{Index: 0, Name: "Show.S02E05.1080p.x264-GRP.mkv", Size: 1_000_000_000},
		},
	}

	sel := SelectFile(download, SelectionRequest{Season: 2, Episode: 3, ChosenIndex: -1})
	if sel.Reason == "" {
		t.Error("expected rejection for the wrong episode")
	}

	sel = SelectFile(download, SelectionRequest{Season: 2, Episode: 3, ChosenIndex: -1, SkipEpisodeCheck: true})
	if sel.Reason != "" {
		t.Errorf("skip flag should accept the file, got %q", sel.Reason)
	}
	if sel.File.Index != 0 {
		t.Errorf("selected index %d, want 0", sel.File.Index)
	}
}

func TestSelectFileUserHints(t *testing.T) {
	download := &models.DebridDownload{
		ID: "1",
		Files: []models.DebridFile{
			{Index: 0, Name: "Show.S01E02.1080p.GRPA.mkv", Size: 1_000_000_000},
			{Index: 1, Name: "Show.S01E02.1080p.GRPB.mkv", Size: 1_000_000_000},
		},
	}
	sel := SelectFile(download, SelectionRequest{
		Season:         1,
		Episode:        2,
		ChosenIndex:    -1,
		ChosenFilename: "GRPB",
	})
	if sel.File.Index != 1 {
		t.Errorf("selected index %d, want 1 (filename hint)", sel.File.Index)
	}

	sel = SelectFile(download, SelectionRequest{Season: 1, Episode: 2, ChosenIndex: 1})
	if sel.File.Index != 1 {
		t.Errorf("selected index %d, want 1 (index hint)", sel.File.Index)
	}
}
