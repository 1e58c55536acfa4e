package googleapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/and161185/agent-keeper/internal/errs"
)

// ModelQuota is the remaining share of one model's quota.
type ModelQuota struct {
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime"`
}

// projectKeys are tried in order on the loadCodeAssist answer.
var projectKeys = []string{"cloudaicompanionProject", "project", "projectId"}

// LoadProject returns the Cloud Code project of the token's account.
func (c *Client) LoadProject(ctx context.Context, token string) (string, error) {
	body := map[string]any{"metadata": map[string]string{"ideType": "ANTIGRAVITY"}}
	var out map[string]any
	if err := c.do(ctx, c.http, http.MethodPost, c.cfg.CloudCodeURL+"/v1internal:loadCodeAssist", "loadCodeAssist", token, body, &out); err != nil {
		return "", err
	}
	for _, k := range projectKeys {
		switch v := out[k].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case map[string]any:
			if id, _ := v["id"].(string); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: loadCodeAssist answer has no project id", errs.ErrNoProject)
}

type modelsResponse struct {
	Models map[string]struct {
		QuotaInfo *ModelQuota `json:"quotaInfo"`
	} `json:"models"`
}

// FetchModels returns quota by model key. Models without quota info are left out.
func (c *Client) FetchModels(ctx context.Context, token, project string) (map[string]ModelQuota, error) {
	var out modelsResponse
	body := map[string]string{"project": project}
	if err := c.do(ctx, c.http, http.MethodPost, c.cfg.CloudCodeURL+"/v1internal:fetchAvailableModels", "fetchAvailableModels", token, body, &out); err != nil {
		return nil, err
	}
	quotas := make(map[string]ModelQuota, len(out.Models))
	for key, m := range out.Models {
		if m.QuotaInfo != nil {
			quotas[key] = *m.QuotaInfo
		}
	}
	return quotas, nil
}

type generateRequest struct {
	Project string         `json:"project"`
	Model   string         `json:"model"`
	Request generateParams `json:"request"`
}

type generateParams struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens"`
}

// Generate sends one minimal prompt to model, which starts its quota window.
// It is never retried.
func (c *Client) Generate(ctx context.Context, token, project, model string) error {
	body := generateRequest{
		Project: project,
		Model:   model,
		Request: generateParams{
			Contents: []content{{
				Role:  "user",
				Parts: []part{{Text: fmt.Sprintf("Hi [Ref: %s]", time.Now().UTC().Format(time.RFC3339))}},
			}},
			GenerationConfig: generationConfig{MaxOutputTokens: 10},
		},
	}
	return c.do(ctx, c.plain, http.MethodPost, c.cfg.CloudCodeURL+"/v1internal:generateContent", "generateContent", token, body, nil)
}
