package enums

// CompletionActionType is the action recorded by a source-of-record completion.
type CompletionActionType string

const (
	CompletionStart    CompletionActionType = "start"
	CompletionConsume  CompletionActionType = "consume"
	CompletionMove     CompletionActionType = "move"
	CompletionHarvest  CompletionActionType = "harvest"
	CompletionProcess  CompletionActionType = "process"
	CompletionGenerate CompletionActionType = "generate"
	CompletionDiscard  CompletionActionType = "discard"
)

// CompletionStatus mirrors the status attribute on completion events.
type CompletionStatus string

const (
	CompletionStatusActive   CompletionStatus = "active"
	CompletionStatusRemoved  CompletionStatus = "removed"
	CompletionStatusArchived CompletionStatus = "archived"
)
