// Package workertype assigns worker roles to child tickets based on
// signals in their descriptions.
package workertype

import (
	"strings"

	"github.com/agentco/agentco/pkg/models"
)

// researchKeywords indicate investigation work for the research role.
var researchKeywords = []string{
	"research",
	"investigate",
	"explore",
	"compare",
	"evaluate",
	"feasibility",
	"survey",
}

// designKeywords indicate architecture work for the design role.
var designKeywords = []string{
	"architecture",
	"technical design",
	"api design",
	"schema",
	"data model",
	"system design",
	"interface design",
}

// designerKeywords indicate visual work for the designer role.
var designerKeywords = []string{
	"ui",
	"ux",
	"mockup",
	"wireframe",
	"visual",
	"layout",
	"styling",
	"css",
}

// testKeywords indicate verification work for the test role.
var testKeywords = []string{
	"test",
	"qa",
	"coverage",
	"regression",
	"e2e",
	"verify",
	"validation suite",
}

// reviewKeywords indicate review work for the reviewer role.
var reviewKeywords = []string{
	"review",
	"audit",
	"inspect",
	"approve",
	"code review",
}

// Selector matches a child ticket description to a worker type.
type Selector struct {
	research []string
	design   []string
	designer []string
	test     []string
	review   []string
}

// NewSelector creates a selector with the default keyword sets.
func NewSelector() *Selector {
	return &Selector{
		research: append([]string{}, researchKeywords...),
		design:   append([]string{}, designKeywords...),
		designer: append([]string{}, designerKeywords...),
		test:     append([]string{}, testKeywords...),
		review:   append([]string{}, reviewKeywords...),
	}
}

// Select analyzes a description and returns the worker type to assign.
// Specific roles are checked before broad ones so "design review" lands
// on reviewer via its more specific keyword, and implementation work is
// the default when nothing else matches.
func (s *Selector) Select(description string) models.WorkerType {
	lower := strings.ToLower(description)

	if containsAny(lower, s.review) {
		return models.WorkerReviewer
	}
	if containsAny(lower, s.test) {
		return models.WorkerTest
	}
	if containsAny(lower, s.research) {
		return models.WorkerResearch
	}
	if containsAny(lower, s.designer) {
		return models.WorkerDesigner
	}
	if containsAny(lower, s.design) {
		return models.WorkerDesign
	}
	return models.WorkerDeveloper
}

// containsAny reports whether text contains any of the keywords.
// Single-word keywords match whole words only, so "ui" does not fire
// inside "build"; phrases match as substrings.
func containsAny(text string, keywords []string) bool {
	var words map[string]bool
	for _, keyword := range keywords {
		if strings.Contains(keyword, " ") {
			if strings.Contains(text, keyword) {
				return true
			}
			continue
		}
		if words == nil {
			words = make(map[string]bool)
			for _, w := range strings.FieldsFunc(text, func(r rune) bool {
				return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
			}) {
				words[w] = true
				words[strings.TrimSuffix(w, "s")] = true
				words[strings.TrimSuffix(w, "ing")] = true
			}
		}
		if words[keyword] {
			return true
		}
	}
	return false
}

// Match is a convenience function selecting a worker type with the
// default keyword sets.
func Match(description string) models.WorkerType {
	return NewSelector().Select(description)
}
