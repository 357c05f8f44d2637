package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowops/driftd/cmd/driftd/models"
	"github.com/flowops/driftd/common/logger"
)

// HTTPRuntimeAdapter talks to one runtime automation platform over its
// REST API.
type HTTPRuntimeAdapter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	log     *logger.Logger
}

// NewHTTPRuntimeAdapter creates an adapter for one runtime instance
func NewHTTPRuntimeAdapter(baseURL, apiKey string, log *logger.Logger) *HTTPRuntimeAdapter {
	return &HTTPRuntimeAdapter{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		log:     log,
	}
}

type workflowListResponse struct {
	Data []struct {
		ID        string                 `json:"id"`
		Name      string                 `json:"name"`
		UpdatedAt time.Time              `json:"updatedAt"`
		Body      map[string]interface{} `json:"body,omitempty"`
	} `json:"data"`
}

// ListWorkflows fetches workflow summaries from the runtime
func (a *HTTPRuntimeAdapter) ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error) {
	var response workflowListResponse
	if err := a.get(ctx, "/api/v1/workflows", &response); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	summaries := make([]models.WorkflowSummary, 0, len(response.Data))
	for _, item := range response.Data {
		summaries = append(summaries, models.WorkflowSummary{
			ID:        item.ID,
			Name:      item.Name,
			UpdatedAt: item.UpdatedAt,
			Body:      item.Body,
		})
	}
	return summaries, nil
}

// GetWorkflow fetches one full workflow document
func (a *HTTPRuntimeAdapter) GetWorkflow(ctx context.Context, id string) (models.WorkflowDocument, error) {
	var doc models.WorkflowDocument
	if err := a.get(ctx, "/api/v1/workflows/"+url.PathEscape(id), &doc); err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}
	return doc, nil
}

// TestConnection verifies the runtime is reachable with these credentials
func (a *HTTPRuntimeAdapter) TestConnection(ctx context.Context) error {
	var out map[string]interface{}
	if err := a.get(ctx, "/healthz", &out); err != nil {
		return fmt.Errorf("runtime connection test failed: %w", err)
	}
	return nil
}

func (a *HTTPRuntimeAdapter) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPAdapterFactory resolves one runtime adapter per environment. The
// base URL template receives the environment name, so each environment
// maps to its own runtime instance.
type HTTPAdapterFactory struct {
	urlTemplate string
	apiKey      string
	log         *logger.Logger
}

// NewHTTPAdapterFactory creates a factory over a URL template such as
// "https://%s.runtime.internal".
func NewHTTPAdapterFactory(urlTemplate, apiKey string, log *logger.Logger) *HTTPAdapterFactory {
	return &HTTPAdapterFactory{urlTemplate: urlTemplate, apiKey: apiKey, log: log}
}

// ForEnvironment resolves the adapter for one environment
func (f *HTTPAdapterFactory) ForEnvironment(ctx context.Context, env *models.Environment) (RuntimeAdapter, error) {
	if f.urlTemplate == "" {
		return nil, fmt.Errorf("runtime URL template not configured")
	}
	baseURL := fmt.Sprintf(f.urlTemplate, env.Name)
	return NewHTTPRuntimeAdapter(baseURL, f.apiKey, f.log), nil
}

// HTTPRepoProvider reads workflow documents from the repository content
// service at a pinned ref.
type HTTPRepoProvider struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewHTTPRepoProvider creates a repo provider over the content API
func NewHTTPRepoProvider(baseURL, token string) *HTTPRepoProvider {
	return &HTTPRepoProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// GetFileContent fetches one file's parsed workflow document
func (p *HTTPRepoProvider) GetFileContent(ctx context.Context, path, ref string) (models.WorkflowDocument, error) {
	endpoint := fmt.Sprintf("%s/content?path=%s&ref=%s",
		p.baseURL, url.QueryEscape(path), url.QueryEscape(ref))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s@%s: %w", path, ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s@%s: status %d", path, ref, resp.StatusCode)
	}

	var doc models.WorkflowDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s@%s: %w", path, ref, err)
	}
	return doc, nil
}
