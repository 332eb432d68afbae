package observability

const (
	AttrConnectorType = "connector.type"
	AttrConnectorID   = "connector.id"
	AttrSearchSpaceID = "search_space.id"
	AttrDocumentType  = "document.type"
	AttrToolName      = "tool.name"
	AttrLLMModel      = "llm.model"
	AttrErrorType     = "error.type"

	SpanConnectorRun  = "connector.run"
	SpanIngest        = "ingest.document"
	SpanRetrieval     = "retrieval.search"
	SpanLLMRequest    = "llm.request"
	SpanToolExecution = "agent.tool_execution"
	SpanAgentTurn     = "agent.turn"
	SpanJob           = "jobs.run"
	SpanReport        = "reports.generate"
	SpanPodcast       = "podcast.generate"

	DefaultServiceName = "lore"
)
