package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ToolName identifies an external collaborator reachable through the boundary.
type ToolName string

const (
	ToolReasoning        ToolName = "reasoning"
	ToolGeneration       ToolName = "generation"
	ToolPlatformData     ToolName = "platform_data"
	ToolWebSearch        ToolName = "web_search"
	ToolSimilaritySearch ToolName = "similarity_search"
	ToolDatastoreRead    ToolName = "datastore_read"
	ToolDatastoreWrite   ToolName = "datastore_write"
)

// ToolArgs is the typed argument payload for one tool.
type ToolArgs interface {
	ToolName() ToolName
	Validate() error
}

// ToolResult is the typed result payload for one tool.
type ToolResult interface {
	Validate() error
}

// ToolContract binds a tool name to its argument and result types.
type ToolContract struct {
	Name     ToolName
	Args     reflect.Type
	Result   reflect.Type
	Mutating bool
}

var contracts = map[ToolName]ToolContract{
	ToolReasoning:        contract[*ReasoningArgs, *ReasoningResult](ToolReasoning, false),
	ToolGeneration:       contract[*GenerationArgs, *GenerationResult](ToolGeneration, false),
	ToolPlatformData:     contract[*PlatformDataArgs, *PlatformDataResult](ToolPlatformData, false),
	ToolWebSearch:        contract[*WebSearchArgs, *WebSearchResult](ToolWebSearch, false),
	ToolSimilaritySearch: contract[*SimilaritySearchArgs, *SimilaritySearchResult](ToolSimilaritySearch, false),
	ToolDatastoreRead:    contract[*DatastoreReadArgs, *DatastoreReadResult](ToolDatastoreRead, false),
	ToolDatastoreWrite:   contract[*DatastoreWriteArgs, *DatastoreWriteResult](ToolDatastoreWrite, true),
}

func contract[A ToolArgs, R ToolResult](name ToolName, mutating bool) ToolContract {
	return ToolContract{
		Name:     name,
		Args:     reflect.TypeOf((*A)(nil)).Elem(),
		Result:   reflect.TypeOf((*R)(nil)).Elem(),
		Mutating: mutating,
	}
}

// ContractFor returns the contract registered for a tool.
func ContractFor(name ToolName) (ToolContract, bool) {
	c, ok := contracts[name]
	return c, ok
}

// AllTools returns every tool with a contract.
func AllTools() []ToolName {
	return []ToolName{
		ToolReasoning, ToolGeneration, ToolPlatformData, ToolWebSearch,
		ToolSimilaritySearch, ToolDatastoreRead, ToolDatastoreWrite,
	}
}

// Reasoning purposes label each reasoning call in the audit trail.
const (
	PurposeClassifyIntent = "classify_intent"
	PurposeMonitor        = "monitor_anomalies"
	PurposeAnalyze        = "analyze_performance"
	PurposePlanActions    = "plan_actions"
	PurposeOptimize       = "recommend_optimizations"
	PurposePhaseReport    = "compose_report"
	PurposeValidate       = "validate_result"
	PurposeSummarize      = "summarize_workflow"
)

// ReasoningArgs asks the reasoning collaborator for a completion.
type ReasoningArgs struct {
	Purpose     string  `json:"purpose,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	JSON        bool    `json:"json,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

func (*ReasoningArgs) ToolName() ToolName { return ToolReasoning }

func (a *ReasoningArgs) Validate() error {
	if strings.TrimSpace(a.Prompt) == "" {
		return errors.New("prompt required")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0,2]", a.Temperature)
	}
	return nil
}

// ReasoningResult is the completion text.
type ReasoningResult struct {
	Text      string `json:"text"`
	Model     string `json:"model,omitempty"`
	TokensIn  int    `json:"tokens_in,omitempty"`
	TokensOut int    `json:"tokens_out,omitempty"`
}

func (r *ReasoningResult) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("empty completion")
	}
	return nil
}

// GenerationArgs asks the content generator for creative variants.
type GenerationArgs struct {
	Prompt      string  `json:"prompt"`
	Platform    string  `json:"platform,omitempty"`
	Variants    int     `json:"variants"`
	Temperature float64 `json:"temperature"`
}

func (*GenerationArgs) ToolName() ToolName { return ToolGeneration }

func (a *GenerationArgs) Validate() error {
	if strings.TrimSpace(a.Prompt) == "" {
		return errors.New("prompt required")
	}
	if a.Variants < 1 || a.Variants > 10 {
		return fmt.Errorf("variants %d out of range [1,10]", a.Variants)
	}
	return nil
}

// GenerationResult holds generated content variants.
type GenerationResult struct {
	Variants []string `json:"variants"`
}

func (r *GenerationResult) Validate() error {
	if len(r.Variants) == 0 {
		return errors.New("no variants generated")
	}
	return nil
}

// PlatformDataArgs requests campaign metrics from one ad platform.
type PlatformDataArgs struct {
	Platform    string   `json:"platform"`
	CampaignIDs []string `json:"campaign_ids,omitempty"`
	Metrics     []string `json:"metrics,omitempty"`
	Period      string   `json:"period,omitempty"`
}

func (*PlatformDataArgs) ToolName() ToolName { return ToolPlatformData }

func (a *PlatformDataArgs) Validate() error {
	if strings.TrimSpace(a.Platform) == "" {
		return errors.New("platform required")
	}
	return nil
}

// CampaignMetrics is one campaign's performance snapshot.
type CampaignMetrics struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Platform    string  `json:"platform"`
	Status      string  `json:"status,omitempty"`
	Budget      float64 `json:"budget"`
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// PlatformDataResult lists campaign metrics for a platform.
type PlatformDataResult struct {
	Platform  string            `json:"platform"`
	Campaigns []CampaignMetrics `json:"campaigns"`
}

func (r *PlatformDataResult) Validate() error {
	for i, c := range r.Campaigns {
		if c.ID == "" {
			return fmt.Errorf("campaign %d: id required", i)
		}
		if c.Spend < 0 || c.Impressions < 0 || c.Clicks < 0 || c.Conversions < 0 {
			return fmt.Errorf("campaign %s: negative metric", c.ID)
		}
	}
	return nil
}

// WebSearchArgs runs a web/knowledge search.
type WebSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (*WebSearchArgs) ToolName() ToolName { return ToolWebSearch }

func (a *WebSearchArgs) Validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return errors.New("query required")
	}
	if a.MaxResults < 1 {
		return errors.New("max_results must be positive")
	}
	return nil
}

// SearchHit is a single web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchResult lists search hits.
type WebSearchResult struct {
	Results []SearchHit `json:"results"`
}

func (r *WebSearchResult) Validate() error { return nil }

// SimilaritySearchArgs queries the vector store.
type SimilaritySearchArgs struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	Collection string `json:"collection,omitempty"`
}

func (*SimilaritySearchArgs) ToolName() ToolName { return ToolSimilaritySearch }

func (a *SimilaritySearchArgs) Validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return errors.New("query required")
	}
	if a.TopK < 1 {
		return errors.New("top_k must be positive")
	}
	return nil
}

// SimilarityMatch is a single vector search hit.
type SimilarityMatch struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SimilaritySearchResult lists similarity matches.
type SimilaritySearchResult struct {
	Matches []SimilarityMatch `json:"matches"`
}

func (r *SimilaritySearchResult) Validate() error {
	for _, m := range r.Matches {
		if m.Score < 0 || m.Score > 1 {
			return fmt.Errorf("match %s: score %.3f out of range [0,1]", m.ID, m.Score)
		}
	}
	return nil
}

// DatastoreReadArgs reads rows from the campaign data store.
type DatastoreReadArgs struct {
	Table   string         `json:"table"`
	Filters map[string]any `json:"filters,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

func (*DatastoreReadArgs) ToolName() ToolName { return ToolDatastoreRead }

func (a *DatastoreReadArgs) Validate() error {
	if strings.TrimSpace(a.Table) == "" {
		return errors.New("table required")
	}
	if a.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

// DatastoreReadResult holds the rows read.
type DatastoreReadResult struct {
	Rows []map[string]any `json:"rows"`
}

func (r *DatastoreReadResult) Validate() error { return nil }

// Datastore write operations.
const (
	WriteInsert = "insert"
	WriteUpdate = "update"
	WriteDelete = "delete"
)

// DatastoreWriteArgs mutates one record in the campaign data store.
type DatastoreWriteArgs struct {
	Table     string         `json:"table"`
	Operation string         `json:"operation"`
	Key       string         `json:"key,omitempty"`
	Record    map[string]any `json:"record,omitempty"`
}

func (*DatastoreWriteArgs) ToolName() ToolName { return ToolDatastoreWrite }

func (a *DatastoreWriteArgs) Validate() error {
	if strings.TrimSpace(a.Table) == "" {
		return errors.New("table required")
	}
	switch a.Operation {
	case WriteInsert:
		if len(a.Record) == 0 {
			return errors.New("insert requires a record")
		}
	case WriteUpdate:
		if a.Key == "" || len(a.Record) == 0 {
			return errors.New("update requires key and record")
		}
	case WriteDelete:
		if a.Key == "" {
			return errors.New("delete requires key")
		}
	default:
		return fmt.Errorf("unknown operation %q", a.Operation)
	}
	return nil
}

// DatastoreWriteResult reports the outcome of a write.
type DatastoreWriteResult struct {
	Affected int    `json:"affected"`
	Key      string `json:"key,omitempty"`
}

func (r *DatastoreWriteResult) Validate() error {
	if r.Affected < 0 {
		return errors.New("negative affected count")
	}
	return nil
}
