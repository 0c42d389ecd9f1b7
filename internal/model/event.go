package model

// EventClass groups webhook events by the action the ingress takes.
type EventClass string

const (
	// EventClassReview events hand the PR to the coordinator.
	EventClassReview EventClass = "review"
	// EventClassConditional events are reviewed only when the title changed.
	EventClassConditional EventClass = "conditional"
	// EventClassLifecycle events mutate state directly without an LLM run.
	EventClassLifecycle EventClass = "lifecycle"
	// EventClassComment events may carry a review trigger command.
	EventClassComment EventClass = "comment"
	// EventClassIgnored events are deliberately dropped.
	EventClassIgnored EventClass = "ignored"
)

// WebhookEvent is the provider-normalized form of a forge webhook
// delivery consumed by the ingress.
type WebhookEvent struct {
	Class  EventClass
	Action string

	Owner string
	Repo  string

	// PR payload; nil for malformed or non-PR events.
	PR *PullRequest

	// Merged is set on lifecycle "closed" events when the PR merged.
	Merged bool

	// TitleChanged is set on "edited" events when changes.title exists.
	TitleChanged bool

	// Comment fields for comment events.
	CommentBody      string
	CommentAuthorBot bool
}
