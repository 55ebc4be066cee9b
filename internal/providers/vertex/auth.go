package vertex

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/nulpointcorp/ai-gateway/internal/providers"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenManager supplies credentials for the Vertex endpoints. Two modes:
// a raw API key passed as a query parameter, or OAuth bearer tokens
// minted from a service-account credentials file. OAuth tokens are cached
// and refreshed by the underlying token source.
type TokenManager struct {
	apiKey    string
	projectID string
	source    oauth2.TokenSource
}

// NewTokenManager builds a TokenManager. apiKey wins when both are
// configured. credentialsFile falls back to GOOGLE_APPLICATION_CREDENTIALS.
// The project id resolves explicit config first, then GOOGLE_CLOUD_PROJECT,
// then the credentials file. With neither a key nor a file construction
// still succeeds and Token fails on every call.
func NewTokenManager(ctx context.Context, apiKey, credentialsFile, projectID string) (*TokenManager, error) {
	if apiKey != "" {
		return &TokenManager{apiKey: apiKey}, nil
	}

	if credentialsFile == "" {
		credentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if credentialsFile == "" {
		// The provider still registers without credentials; requests fail
		// at call time with 503 instead of routing to a 400.
		return &TokenManager{projectID: projectID}, nil
	}

	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("vertex: read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("vertex: parse credentials: %w", err)
	}

	if projectID == "" {
		projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if projectID == "" {
		projectID = creds.ProjectID
	}

	return &TokenManager{
		projectID: projectID,
		source:    oauth2.ReuseTokenSource(nil, creds.TokenSource),
	}, nil
}

// IsAPIKey reports whether requests should authenticate via query
// parameter instead of a bearer header.
func (tm *TokenManager) IsAPIKey() bool { return tm.apiKey != "" }

// ProjectID returns the resolved project id; empty in API-key mode.
func (tm *TokenManager) ProjectID() string { return tm.projectID }

// Token returns the API key or a fresh OAuth access token.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	if tm.apiKey != "" {
		return tm.apiKey, nil
	}
	if tm.source == nil {
		return "", providers.Unavailablef("Vertex credentials are not configured")
	}
	tok, err := tm.source.Token()
	if err != nil {
		return "", providers.NewAuth(fmt.Sprintf("Failed to mint Vertex access token: %v", err))
	}
	return tok.AccessToken, nil
}
