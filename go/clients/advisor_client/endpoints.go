package advisor_client

const (
	// API Endpoints
	SuggestEndpoint = "/v1/suggest"

	APIKeyHeader = "X-Api-Key"
)
