package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"streamforge/models"
)

// PinWhere is a sorter directive emitted from a selector expression.
type PinWhere string

const (
	PinTop    PinWhere = "top"
	PinBottom PinWhere = "bottom"
)

// regexCache compiles user patterns once per request.
type regexCache struct {
	compiled map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*regexp.Regexp)}
}

// get returns the compiled pattern. Patterns were validated at user-data
// ingestion; a pattern that still fails to compile matches nothing.
func (c *regexCache) get(pattern string) *regexp.Regexp {
	if re, ok := c.compiled[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	c.compiled[pattern] = re
	return re
}

// selEvaluator runs selector-language expressions against single streams.
// Expressions compile once per request; the per-stream environment exposes
// attribute predicates and a pin() side channel consumed by the sorter.
type selEvaluator struct {
	programs map[string]*vm.Program
	regexes  *regexCache
	pins     map[string]PinWhere // stream id -> placement
}

func newSELEvaluator(regexes *regexCache) *selEvaluator {
	return &selEvaluator{
		programs: make(map[string]*vm.Program),
		regexes:  regexes,
		pins:     make(map[string]PinWhere),
	}
}

func (e *selEvaluator) compile(src string) (*vm.Program, error) {
	if program, ok := e.programs[src]; ok {
		if program == nil {
			return nil, fmt.Errorf("expression %q failed to compile", src)
		}
		return program, nil
	}
	program, err := expr.Compile(src, expr.Env(map[string]any{}), expr.AsBool())
	if err != nil {
		e.programs[src] = nil
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	e.programs[src] = program
	return program, nil
}

// eval reports whether the stream satisfies the expression. Evaluation
// errors count as no-match so one bad expression cannot empty the results.
func (e *selEvaluator) eval(src string, s *models.ParsedStream) bool {
	program, err := e.compile(src)
	if err != nil {
		return false
	}
	out, err := expr.Run(program, e.envFor(s))
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}

func (e *selEvaluator) envFor(s *models.ParsedStream) map[string]any {
	return map[string]any{
		"addon":        s.AddonID,
		"service":      s.ServiceID(),
		"releaseGroup": s.ReleaseGroup(),
		"resolution":   s.Resolution(),
		"quality":      s.Quality(),
		"encode":       s.Encode(),
		"filename":     s.Filename,
		"folder":       s.FolderName,
		"hash":         s.InfoHash,
		"indexer":      s.Indexer,
		"seeders":      s.Seeders,
		"size":         s.SizeBytes,
		"bitrate":      s.BitrateKbps,
		"age":          s.AgeHours,
		"type":         string(s.Type),
		"languages":    s.Languages,
		"cached":       s.Cached(),
		"library":      s.Service != nil && s.Service.Library,

		"regexMatches": func(pattern string) bool {
			re := e.regexes.get(pattern)
			if re == nil {
				return false
			}
			return re.MatchString(s.Filename) || re.MatchString(s.FolderName)
		},
		"uncached": func() bool {
			return !s.Cached()
		},
		"seadex": func() bool {
			return s.Seadex != nil && s.Seadex.IsSeadex
		},
		"seadexBest": func() bool {
			return s.Seadex != nil && s.Seadex.IsBest
		},
		"pin": func(where string) bool {
			switch strings.ToLower(where) {
			case string(PinTop):
				e.pins[s.ID] = PinTop
			case string(PinBottom):
				e.pins[s.ID] = PinBottom
			}
			return true
		},
	}
}

// pinFor returns the recorded placement directive for a stream, if any.
func (e *selEvaluator) pinFor(id string) (PinWhere, bool) {
	where, ok := e.pins[id]
	return where, ok
}
