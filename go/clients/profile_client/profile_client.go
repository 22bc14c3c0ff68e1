package profile_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/clients"
	"github.com/mcdev12/geotag/go/internal/models"
)

type ProfileClient struct {
	*clients.BaseClient
}

func NewProfileClient(baseURL, token string) *ProfileClient {
	client := &ProfileClient{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
	}

	client.SetHeader(AcceptHeader, "application/json")
	if token != "" {
		client.SetHeader(AuthorizationHeader, "Bearer "+token)
	}

	return client
}

type ProfilesResponse struct {
	Profiles []models.Profile `json:"profiles"`
}

// FetchProfiles resolves display identities for ids, batching requests to
// MaxBatch ids. Unknown ids are simply absent from the result.
func (c *ProfileClient) FetchProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	var out []models.Profile
	for start := 0; start < len(ids); start += MaxBatch {
		end := min(start+MaxBatch, len(ids))

		batch, err := c.fetchBatch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *ProfileClient) fetchBatch(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	q := url.Values{}
	q.Set("ids", strings.Join(strs, ","))

	body, err := c.Get(ctx, ProfilesEndpoint+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to get profiles: %w", err)
	}

	var response ProfilesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return response.Profiles, nil
}
