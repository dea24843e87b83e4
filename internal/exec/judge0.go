package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"codecollab/internal/models"
)

const maxSandboxResponse = 4 << 20

// Judge0Client submits code to a Judge0-compatible HTTP sandbox and waits for
// the result in the same request.
type Judge0Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	apiHost string
}

// NewJudge0Client takes the API key as an injected secret; an empty key sends
// no credential header.
func NewJudge0Client(baseURL, apiKey, apiHost string) *Judge0Client {
	return &Judge0Client{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		apiHost: apiHost,
	}
}

type judge0Request struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

type judge0Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type judge0Response struct {
	Stdout        *string       `json:"stdout"`
	Stderr        *string       `json:"stderr"`
	CompileOutput *string       `json:"compile_output"`
	Message       *string       `json:"message"`
	Status        *judge0Status `json:"status"`
}

func (c *Judge0Client) Submit(ctx context.Context, sub Submission) (models.ExecuteResult, error) {
	body, err := json.Marshal(judge0Request{
		SourceCode: sub.Code,
		LanguageID: sub.Language.Judge0ID,
		Stdin:      sub.Stdin,
	})
	if err != nil {
		return models.ExecuteResult{}, err
	}

	url := c.baseURL + "/submissions?base64_encoded=false&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.ExecuteResult{}, fmt.Errorf("build sandbox request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.ExecuteResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSandboxResponse))
	if err != nil {
		return models.ExecuteResult{}, models.WrapError(models.KindExternalService, "Failed to read sandbox response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.ExecuteResult{}, &models.AppError{
			Kind:    models.KindExternalService,
			Message: fmt.Sprintf("Sandbox returned status %d", resp.StatusCode),
			Details: rawPayload(raw),
		}
	}

	var out judge0Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.ExecuteResult{}, &models.AppError{
			Kind:    models.KindExternalService,
			Message: "Malformed sandbox response",
			Details: string(raw),
			Err:     err,
		}
	}

	res := models.ExecuteResult{
		Output:        deref(out.Stdout),
		Stderr:        deref(out.Stderr),
		CompileOutput: deref(out.CompileOutput),
	}
	if out.Status != nil {
		res.Status = out.Status.Description
	}
	if res.Stderr == "" && out.Message != nil {
		res.Stderr = *out.Message
	}
	return res, nil
}

// rawPayload keeps JSON diagnostics structured and falls back to text.
func rawPayload(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
