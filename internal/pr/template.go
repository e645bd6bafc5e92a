// Package pr turns a completed parent ticket into a pull request on
// the hosting provider.
package pr

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agentco/agentco/pkg/models"
)

// TitlePrefix marks every generated pull request title.
const TitlePrefix = "[AgentCompany]"

// maxTitleLen bounds generated titles; hosts truncate ugly, we
// truncate clean.
const maxTitleLen = 120

// GenerateTitle builds the pull request title from the parent's intake
// instruction.
func GenerateTitle(parent *models.ParentTicket) string {
	instruction := strings.TrimSpace(parent.Instruction)
	instruction = strings.Join(strings.Fields(instruction), " ")
	title := TitlePrefix + " " + instruction
	if len(title) > maxTitleLen {
		title = truncateRunes(title, maxTitleLen-3) + "..."
	}
	return title
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// GenerateBody renders the fixed pull request description: the intake
// instruction, every child slice with its units of work, the artifacts
// produced, and the review approvals that gated completion.
func GenerateBody(parent *models.ParentTicket) string {
	var b strings.Builder

	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(parent.Instruction))
	b.WriteString("\n\n## Work Breakdown\n\n")

	for _, child := range parent.Children {
		fmt.Fprintf(&b, "### %s (%s)\n\n", child.Title, child.WorkerType)
		if child.Description != "" {
			b.WriteString(strings.TrimSpace(child.Description))
			b.WriteString("\n\n")
		}
		for _, g := range child.Grandchildren {
			fmt.Fprintf(&b, "- [x] %s", g.Title)
			if g.ReviewResult != nil && g.ReviewResult.Approved {
				fmt.Fprintf(&b, " (approved by %s)", g.ReviewResult.ReviewerID)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	artifacts := collectArtifacts(parent)
	if len(artifacts) > 0 {
		b.WriteString("## Artifacts\n\n")
		for _, a := range artifacts {
			fmt.Fprintf(&b, "- `%s`\n", a)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\nTicket: %s\n", parent.ID)
	return b.String()
}

// collectArtifacts gathers the unique artifacts across the hierarchy,
// preserving first-seen order.
func collectArtifacts(parent *models.ParentTicket) []string {
	seen := make(map[string]bool)
	var artifacts []string
	for _, child := range parent.Children {
		for _, g := range child.Grandchildren {
			for _, a := range g.Artifacts {
				if !seen[a] {
					seen[a] = true
					artifacts = append(artifacts, a)
				}
			}
		}
	}
	return artifacts
}
