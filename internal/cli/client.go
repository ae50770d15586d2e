package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// DefinitionSummary — definition из списка API.
type DefinitionSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// Definition — definition целиком.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// Step — шаг definition.
type Step struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Type         string   `json:"type,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	TimeoutSec   int      `json:"timeout_sec,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID           string                `json:"id"`
	DefinitionID string                `json:"definition_id"`
	Status       string                `json:"status"`
	Inputs       map[string]any        `json:"inputs,omitempty"`
	Results      map[string]StepResult `json:"results,omitempty"`
	Error        string                `json:"error,omitempty"`
	StartedAt    string                `json:"started_at"`
	FinishedAt   string                `json:"finished_at,omitempty"`
	DurationMs   int64                 `json:"duration_ms"`
}

// StepResult — результат шага из API.
type StepResult struct {
	StepID   string         `json:"step_id"`
	Status   string         `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Attempts int            `json:"attempts"`
}

// StartRunResponse — ответ на запуск run.
type StartRunResponse struct {
	RunID        string `json:"run_id"`
	DefinitionID string `json:"definition_id"`
	Status       string `json:"status"`
}

// StatusResponse — состояние оркестратора.
type StatusResponse struct {
	Active       bool                  `json:"active"`
	Definitions  []string              `json:"definitions,omitempty"`
	RunID        string                `json:"run_id,omitempty"`
	DefinitionID string                `json:"definition_id,omitempty"`
	Progress     *Progress             `json:"progress,omitempty"`
	RunningSteps []RunningStep         `json:"running_steps,omitempty"`
	Results      map[string]StepResult `json:"results,omitempty"`
}

// Progress — прогресс активного run.
type Progress struct {
	Completed int `json:"completed"`
	Running   int `json:"running"`
	Total     int `json:"total"`
}

// RunningStep — выполняющийся шаг.
type RunningStep struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// EventResponse — событие из истории шины.
type EventResponse struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     string         `json:"timestamp"`
}

// --- Request types ---

// StartRunRequest — запуск run.
type StartRunRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ListRunsOpts — параметры фильтрации архива runs.
type ListRunsOpts struct {
	DefinitionID string
	Status       string
	Limit        int
}

// ListEventsOpts — параметры фильтрации событий.
type ListEventsOpts struct {
	Type  string
	Limit int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Cascade API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Definitions ---

// ListDefinitions возвращает все definitions каталога.
func (c *Client) ListDefinitions() ([]DefinitionSummary, error) {
	var defs []DefinitionSummary
	err := c.list("/api/v1/definitions", nil, &defs)
	return defs, err
}

// GetDefinition возвращает definition по ID.
func (c *Client) GetDefinition(id string) (*Definition, error) {
	var def Definition
	err := c.get("/api/v1/definitions/"+id, &def)
	return &def, err
}

// --- Runs ---

// StartRun запускает выполнение definition.
func (c *Client) StartRun(definitionID string, inputs map[string]any) (*StartRunResponse, error) {
	var started StartRunResponse
	err := c.post("/api/v1/definitions/"+definitionID+"/runs", StartRunRequest{Inputs: inputs}, &started)
	return &started, err
}

// GetStatus возвращает состояние оркестратора.
func (c *Client) GetStatus() (*StatusResponse, error) {
	var status StatusResponse
	err := c.get("/api/v1/status", &status)
	return &status, err
}

// GetActiveRun возвращает активный run.
func (c *Client) GetActiveRun() (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/active", &run)
	return &run, err
}

// CancelRun отменяет активный run.
func (c *Client) CancelRun() (string, error) {
	var result struct {
		Message string `json:"message"`
	}
	err := c.post("/api/v1/runs/active/cancel", nil, &result)
	return result.Message, err
}

// GetLastRun возвращает последний завершённый run.
func (c *Client) GetLastRun() (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/last", &run)
	return &run, err
}

// ListRuns возвращает архив runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.DefinitionID != "" {
		params.Set("definition_id", opts.DefinitionID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run из архива по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// --- Events ---

// ListEvents возвращает историю событий шины.
func (c *Client) ListEvents(opts ListEventsOpts) ([]EventResponse, error) {
	params := url.Values{}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var events []EventResponse
	err := c.list("/api/v1/events", params, &events)
	return events, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
