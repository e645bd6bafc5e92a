package pr

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/agentco/agentco/pkg/models"
)

func sampleParent() *models.ParentTicket {
	return &models.ParentTicket{
		ID:          "pt-1",
		ProjectID:   "proj-1",
		Instruction: "Add login page",
		Status:      models.StatusCompleted,
		Children: []*models.ChildTicket{
			{
				ID:         "ct-1",
				Title:      "Implement login form",
				WorkerType: models.WorkerDeveloper,
				Status:     models.StatusCompleted,
				Grandchildren: []*models.GrandchildTicket{
					{
						ID:        "gt-1",
						Title:     "Form markup",
						Status:    models.StatusCompleted,
						Artifacts: []string{"internal/login/form.go"},
						ReviewResult: &models.ReviewResult{
							ReviewerID: "reviewer-1",
							Approved:   true,
						},
					},
					{
						ID:        "gt-2",
						Title:     "Submit handler",
						Status:    models.StatusCompleted,
						Artifacts: []string{"internal/login/form.go", "internal/login/submit.go"},
						ReviewResult: &models.ReviewResult{
							ReviewerID: "reviewer-2",
							Approved:   true,
						},
					},
				},
			},
		},
	}
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name        string
		instruction string
		want        string
	}{
		{"plain", "Add login page", "[AgentCompany] Add login page"},
		{"whitespace collapsed", "  Add   login\npage  ", "[AgentCompany] Add login page"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateTitle(&models.ParentTicket{Instruction: tt.instruction})
			if got != tt.want {
				t.Errorf("GenerateTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateTitle_TruncatesLongInstructions(t *testing.T) {
	long := strings.Repeat("refactor the entire billing pipeline ", 10)
	got := GenerateTitle(&models.ParentTicket{Instruction: long})
	if len(got) > maxTitleLen {
		t.Errorf("title length = %d, want <= %d", len(got), maxTitleLen)
	}
	if !strings.HasPrefix(got, TitlePrefix+" ") {
		t.Errorf("title %q missing prefix", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated title %q missing ellipsis", got)
	}
}

func TestGenerateTitle_TruncatesOnRuneBoundary(t *testing.T) {
	// One leading ASCII byte shifts the two-byte runes off the cut
	// position, so a byte slice would split one.
	long := "x" + strings.Repeat("ß", 200)
	got := GenerateTitle(&models.ParentTicket{Instruction: long})
	if len(got) > maxTitleLen {
		t.Errorf("title length = %d, want <= %d", len(got), maxTitleLen)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncated title is not valid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated title %q missing ellipsis", got)
	}
}

func TestGenerateBody(t *testing.T) {
	body := GenerateBody(sampleParent())

	for _, want := range []string{
		"## Summary",
		"Add login page",
		"### Implement login form (developer)",
		"- [x] Form markup (approved by reviewer-1)",
		"- [x] Submit handler (approved by reviewer-2)",
		"## Artifacts",
		"`internal/login/form.go`",
		"`internal/login/submit.go`",
		"Ticket: pt-1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q\n%s", want, body)
		}
	}

	// Shared artifact listed once.
	if strings.Count(body, "internal/login/form.go") != 1 {
		t.Errorf("duplicate artifact in body:\n%s", body)
	}
}
