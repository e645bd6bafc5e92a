package models

// WorkerType is the role assigned to a child ticket.
type WorkerType string

const (
	// WorkerResearch investigates and gathers information.
	WorkerResearch WorkerType = "research"
	// WorkerDesign produces technical designs and architecture.
	WorkerDesign WorkerType = "design"
	// WorkerDesigner produces UI and visual design work.
	WorkerDesigner WorkerType = "designer"
	// WorkerDeveloper implements code changes.
	WorkerDeveloper WorkerType = "developer"
	// WorkerTest writes and runs tests.
	WorkerTest WorkerType = "test"
	// WorkerReviewer reviews completed deliverables.
	WorkerReviewer WorkerType = "reviewer"
)

// Valid returns true if the worker type is a known value.
func (w WorkerType) Valid() bool {
	switch w {
	case WorkerResearch, WorkerDesign, WorkerDesigner, WorkerDeveloper, WorkerTest, WorkerReviewer:
		return true
	default:
		return false
	}
}
