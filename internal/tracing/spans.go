package tracing

// Span names.
const (
	SpanFindProviders = "repository.find_providers"
	SpanAggregate     = "repository.aggregate"
	SpanLoad          = "loader.load"
	SpanFetch         = "loader.fetch"
	SpanDecode        = "repoxml.decode"
	SpanRefresh       = "loader.refresh"
)

// Span attribute keys.
const (
	AttrRepository   = "obr.repository"
	AttrRequirements = "obr.requirements"
	AttrProviders    = "obr.providers"
	AttrSources      = "obr.sources"
	AttrSourceURL    = "obr.source.url"
	AttrOutcome      = "obr.load.outcome"
	AttrIncrement    = "obr.snapshot.increment"
	AttrResources    = "obr.snapshot.resources"
	AttrHTTPStatus   = "http.status_code"
)
