package profile_client

const (
	// API Endpoints
	ProfilesEndpoint = "/v1/profiles"

	// Headers
	AuthorizationHeader = "Authorization"
	AcceptHeader        = "Accept"

	// MaxBatch is the most ids the service accepts per request
	MaxBatch = 100
)
