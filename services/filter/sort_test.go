package filter

import (
	"reflect"
	"testing"

	"streamforge/models"
)

func TestPrecomputeRankedAndPreferred(t *testing.T) {
	user := &models.UserData{
		RankedRegexes: []models.RankedPattern{
			{Name: "remux", Pattern: `(?i)\bremux\b`, Score: 100},
			{Name: "hevc", Pattern: `(?i)x265`, Score: 50},
		},
		RankedExpressions: []models.RankedExpression{
			{Name: "cached bonus", Expression: "cached", Score: 25},
		},
		PreferredKeywords: []string{"atmos", "remux"},
	}
	p := New(user)

	s := debridStream("s", func(s *models.ParsedStream) {
		s.Filename = "Movie.2019.REMUX.x265.mkv"
	})
	p.Precompute([]*models.ParsedStream{s})

	if s.RegexScore != 150 {
		t.Errorf("RegexScore = %d", s.RegexScore)
	}
	if !reflect.DeepEqual(s.RankedRegexesMatched, []string{"remux", "hevc"}) {
		t.Errorf("RankedRegexesMatched = %v", s.RankedRegexesMatched)
	}
	if s.ExpressionScore != 25 {
		t.Errorf("ExpressionScore = %d", s.ExpressionScore)
	}
	if s.KeywordMatched != "remux" {
		t.Errorf("KeywordMatched = %q", s.KeywordMatched)
	}
}

func TestScoreIncludesEnumRanks(t *testing.T) {
	user := &models.UserData{
		Resolutions: models.EnumFilter{Ranked: map[string]int{"1080p": 40}},
	}
	p := New(user)

	s := debridStream("s", func(s *models.ParsedStream) {
		s.Parsed = &models.ParsedTitle{Resolution: "1080p"}
		s.RegexScore = 10
	})
	if got := p.Score(s); got != 50 {
		t.Errorf("Score = %d", got)
	}
}

func TestSortByCriteriaWithScoreTieBreak(t *testing.T) {
	user := &models.UserData{
		SortCriteria: []models.SortCriterion{{Key: "resolution"}, {Key: "size"}},
	}
	p := New(user)

	streams := []*models.ParsedStream{
		debridStream("small-1080p", func(s *models.ParsedStream) {
			s.Parsed = &models.ParsedTitle{Resolution: "1080p"}
			s.SizeBytes = 2 << 30
		}),
		debridStream("2160p", func(s *models.ParsedStream) {
			s.Parsed = &models.ParsedTitle{Resolution: "2160p"}
			s.SizeBytes = 1 << 30
		}),
		debridStream("big-1080p", func(s *models.ParsedStream) {
			s.Parsed = &models.ParsedTitle{Resolution: "1080p"}
			s.SizeBytes = 8 << 30
		}),
	}

	sorted := p.Sort(streams)
	want := []string{"2160p", "big-1080p", "small-1080p"}
	if got := keptIDs(sorted); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestSortAscending(t *testing.T) {
	user := &models.UserData{
		SortCriteria: []models.SortCriterion{{Key: "size", Ascending: true}},
	}
	p := New(user)

	streams := []*models.ParsedStream{
		debridStream("big", func(s *models.ParsedStream) { s.SizeBytes = 8 << 30 }),
		debridStream("small", func(s *models.ParsedStream) { s.SizeBytes = 1 << 30 }),
	}
	sorted := p.Sort(streams)
	if got := keptIDs(sorted); got[0] != "small" {
		t.Fatalf("order = %v", got)
	}
}

func TestPinnedStreamsBracketTheResults(t *testing.T) {
	user := &models.UserData{
		RankedExpressions: []models.RankedExpression{
			{Expression: `releaseGroup == "SubsPlease" and pin("top")`, Score: 0},
			{Expression: `releaseGroup == "YIFY" and pin("bottom")`, Score: 0},
		},
		SortCriteria: []models.SortCriterion{{Key: "size"}},
	}
	p := New(user)

	streams := []*models.ParsedStream{
		debridStream("yify", func(s *models.ParsedStream) {
			s.Parsed = &models.ParsedTitle{ReleaseGroup: "YIFY"}
			s.SizeBytes = 9 << 30
		}),
		debridStream("subsplease", func(s *models.ParsedStream) {
			s.Parsed = &models.ParsedTitle{ReleaseGroup: "SubsPlease"}
			s.SizeBytes = 1 << 30
		}),
		debridStream("middle", func(s *models.ParsedStream) {
			s.SizeBytes = 4 << 30
		}),
	}

	p.Precompute(streams)
	sorted := p.Sort(streams)
	want := []string{"subsplease", "middle", "yify"}
	if got := keptIDs(sorted); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestDedupeByHashAndFileIdentity(t *testing.T) {
	p := New(&models.UserData{})

	streams := []*models.ParsedStream{
		debridStream("first", func(s *models.ParsedStream) {
			s.InfoHash = "ABCDEF0123456789ABCDEF0123456789ABCDEF01"
		}),
		debridStream("same-hash", func(s *models.ParsedStream) {
			s.InfoHash = "abcdef0123456789abcdef0123456789abcdef01"
		}),
		debridStream("file", func(s *models.ParsedStream) {
			s.Filename = "Show.S02E03.mkv"
			s.SizeBytes = 100
		}),
		debridStream("same-file", func(s *models.ParsedStream) {
			s.Filename = "show.s02e03.mkv"
			s.SizeBytes = 100
		}),
		debridStream("other-service", func(s *models.ParsedStream) {
			s.Filename = "Show.S02E03.mkv"
			s.SizeBytes = 100
			s.Service = &models.ServiceAnnotation{ID: "streamdav", Cached: true}
		}),
	}

	kept := p.Dedupe(streams)
	want := []string{"first", "file", "other-service"}
	if got := keptIDs(kept); !reflect.DeepEqual(got, want) {
		t.Fatalf("kept = %v, want %v", got, want)
	}
	if p.Removed()["duplicate stream"] != 2 {
		t.Errorf("removed = %v", p.Removed())
	}
}

func TestLimitIndependent(t *testing.T) {
	p := New(&models.UserData{
		Limits: models.ResultLimits{Resolution: 1, Global: 3},
	})

	streams := []*models.ParsedStream{
		debridStream("a-1080p", func(s *models.ParsedStream) { s.Parsed = &models.ParsedTitle{Resolution: "1080p"} }),
		debridStream("b-1080p", func(s *models.ParsedStream) { s.Parsed = &models.ParsedTitle{Resolution: "1080p"} }),
		debridStream("c-720p", func(s *models.ParsedStream) { s.Parsed = &models.ParsedTitle{Resolution: "720p"} }),
	}

	kept := p.Limit(streams)
	want := []string{"a-1080p", "c-720p"}
	if got := keptIDs(kept); !reflect.DeepEqual(got, want) {
		t.Fatalf("kept = %v, want %v", got, want)
	}
}

func TestLimitConjunctive(t *testing.T) {
	p := New(&models.UserData{
		Limits: models.ResultLimits{Resolution: 2, Service: 3, Conjunctive: true},
	})

	// Cap is min(2, 3) per (resolution, service) pair.
	streams := []*models.ParsedStream{
		debridStream("a", func(s *models.ParsedStream) { s.Parsed = &models.ParsedTitle{Resolution: "1080p"} }),
		debridStream("b", func(s *models.ParsedStream) { s.Parsed = &models.ParsedTitle{Resolution: "1080p"} }),
		debridStream("c", func(s *models.ParsedStream) { s.Parsed = &models.ParsedTitle{Resolution: "1080p"} }),
		debridStream("d", func(s *models.ParsedStream) {
			s.Parsed = &models.ParsedTitle{Resolution: "1080p"}
			s.Service = &models.ServiceAnnotation{ID: "streamdav"}
		}),
	}

	kept := p.Limit(streams)
	want := []string{"a", "b", "d"}
	if got := keptIDs(kept); !reflect.DeepEqual(got, want) {
		t.Fatalf("kept = %v, want %v", got, want)
	}
}

func TestLimitPassthrough(t *testing.T) {
	p := New(&models.UserData{
		Limits: models.ResultLimits{Global: 1},
	})

	streams := []*models.ParsedStream{
		debridStream("a", nil),
		debridStream("b", nil),
		debridStream("diag", func(s *models.ParsedStream) {
			s.Type = models.StreamTypeInfo
			s.Passthrough = []string{StageLimit}
		}),
	}

	kept := p.Limit(streams)
	want := []string{"a", "diag"}
	if got := keptIDs(kept); !reflect.DeepEqual(got, want) {
		t.Fatalf("kept = %v, want %v", got, want)
	}
}
