package graphtools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Vikash221010/context-graph-demo/agent"
	"github.com/Vikash221010/context-graph-demo/llmwire"
)

const (
	defaultSearchLimit    = 10
	defaultDecisionLimit  = 20
	defaultSimilarLimit   = 5
	defaultPrecedentLimit = 5
	defaultChainDepth     = 3
	defaultNeighborCount  = 5
	defaultExampleCount   = 5

	// graphDataLimit caps the size of the visualization subgraph attached
	// to lookup results.
	graphDataLimit = 50
)

// Toolset binds the context graph collaborators to tool handlers.
type Toolset struct {
	store     GraphStore
	analytics GraphAnalytics
	vectors   VectorSearch
	logger    *slog.Logger
}

// NewToolset creates a toolset over the given collaborators.
func NewToolset(store GraphStore, analytics GraphAnalytics, vectors VectorSearch) *Toolset {
	return &Toolset{
		store:     store,
		analytics: analytics,
		vectors:   vectors,
		logger:    slog.Default(),
	}
}

// SetLogger replaces the toolset logger.
func (t *Toolset) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Register adds every context graph tool to the registry.
func (t *Toolset) Register(registry *agent.ToolRegistry) {
	registry.Register(llmwire.ToolDefinition{
		Name:        "search_customer",
		Description: "Search for customers by name, email, or account number. Returns customer profiles with risk scores and related account counts.",
		InputSchema: objectSchema(map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "Search query"},
			"limit": map[string]interface{}{"type": "integer", "description": "Maximum results", "default": defaultSearchLimit},
		}, "query"),
	}, t.searchCustomer)

	registry.Register(llmwire.ToolDefinition{
		Name:        "get_customer_decisions",
		Description: "Get all decisions made about a specific customer, including approvals, rejections, escalations, and exceptions.",
		InputSchema: objectSchema(map[string]interface{}{
			"customer_id":   map[string]interface{}{"type": "string", "description": "Customer ID"},
			"decision_type": map[string]interface{}{"type": "string", "description": "Filter by decision type"},
			"limit":         map[string]interface{}{"type": "integer", "description": "Maximum results", "default": defaultDecisionLimit},
		}, "customer_id"),
	}, t.getCustomerDecisions)

	registry.Register(llmwire.ToolDefinition{
		Name:        "find_similar_decisions",
		Description: "Find structurally similar past decisions using FastRP graph embeddings. Returns decisions with similar influences, causes, and precedents.",
		InputSchema: objectSchema(map[string]interface{}{
			"decision_id": map[string]interface{}{"type": "string", "description": "The internal decision ID"},
			"limit":       map[string]interface{}{"type": "integer", "description": "Number of similar decisions", "default": defaultSimilarLimit},
		}, "decision_id"),
	}, t.findSimilarDecisions)

	registry.Register(llmwire.ToolDefinition{
		Name:        "find_precedents",
		Description: "Find precedent decisions that could inform the current decision. Uses both semantic similarity (meaning) and structural similarity (graph patterns).",
		InputSchema: objectSchema(map[string]interface{}{
			"scenario": map[string]interface{}{"type": "string", "description": "Scenario description"},
			"category": map[string]interface{}{"type": "string", "description": "Decision category"},
			"limit":    map[string]interface{}{"type": "integer", "description": "Maximum results", "default": defaultPrecedentLimit},
		}, "scenario"),
	}, t.findPrecedents)

	registry.Register(llmwire.ToolDefinition{
		Name:        "get_causal_chain",
		Description: "Trace the causal chain of a decision - what caused it and what it led to.",
		InputSchema: objectSchema(map[string]interface{}{
			"decision_id": map[string]interface{}{"type": "string", "description": "Decision ID"},
			"direction":   map[string]interface{}{"type": "string", "description": "Direction: 'upstream', 'downstream', or 'both'", "default": "both"},
			"depth":       map[string]interface{}{"type": "integer", "description": "Depth to traverse", "default": defaultChainDepth},
		}, "decision_id"),
	}, t.getCausalChain)

	registry.Register(llmwire.ToolDefinition{
		Name:        "record_decision",
		Description: "Record a new decision with full reasoning context. Creates a decision trace in the context graph.",
		InputSchema: objectSchema(map[string]interface{}{
			"decision_type":    map[string]interface{}{"type": "string", "description": "Type of decision"},
			"category":         map[string]interface{}{"type": "string", "description": "Decision category"},
			"reasoning":        map[string]interface{}{"type": "string", "description": "Full reasoning"},
			"customer_id":      map[string]interface{}{"type": "string", "description": "Customer ID"},
			"account_id":       map[string]interface{}{"type": "string", "description": "Account ID"},
			"risk_factors":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Risk factors"},
			"precedent_ids":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Precedent decision IDs"},
			"confidence_score": map[string]interface{}{"type": "number", "description": "Confidence score 0-1", "default": 0.8},
		}, "decision_type", "category", "reasoning"),
	}, t.recordDecision)

	registry.Register(llmwire.ToolDefinition{
		Name:        "detect_fraud_patterns",
		Description: "Analyze accounts or transactions for potential fraud patterns using graph structure analysis.",
		InputSchema: objectSchema(map[string]interface{}{
			"account_id":     map[string]interface{}{"type": "string", "description": "The internal account ID"},
			"neighbor_count": map[string]interface{}{"type": "integer", "description": "Number of examples to return", "default": defaultNeighborCount},
		}, "account_id"),
	}, t.detectFraudPatterns)

	registry.Register(llmwire.ToolDefinition{
		Name:        "find_decision_community",
		Description: "Find decisions in the same community using Leiden community detection.",
		InputSchema: objectSchema(map[string]interface{}{
			"decision_id":   map[string]interface{}{"type": "string", "description": "Decision ID"},
			"example_count": map[string]interface{}{"type": "integer", "description": "Number of examples", "default": defaultExampleCount},
		}, "decision_id"),
	}, t.findDecisionCommunity)

	registry.Register(llmwire.ToolDefinition{
		Name:        "find_accounts_with_high_shared_transaction_volume",
		Description: "Find accounts that share high transaction volumes with a given account.",
		InputSchema: objectSchema(map[string]interface{}{
			"account_id": map[string]interface{}{"type": "string", "description": "The internal account ID"},
		}, "account_id"),
	}, t.findSharedVolumeAccounts)

	registry.Register(llmwire.ToolDefinition{
		Name:        "get_policy",
		Description: "Get the current policy rules for a specific category.",
		InputSchema: objectSchema(map[string]interface{}{
			"category":    map[string]interface{}{"type": "string", "description": "Policy category"},
			"policy_name": map[string]interface{}{"type": "string", "description": "Policy name to search for"},
		}),
	}, t.getPolicy)

	registry.Register(llmwire.ToolDefinition{
		Name:        "execute_cypher",
		Description: "Execute a read-only Cypher query against the context graph for custom analysis.",
		InputSchema: objectSchema(map[string]interface{}{
			"cypher": map[string]interface{}{"type": "string", "description": "Cypher query"},
		}, "cypher"),
	}, t.executeCypher)

	registry.Register(llmwire.ToolDefinition{
		Name:        "get_schema",
		Description: "Get the graph database schema including node labels, relationship types, and property keys.",
		InputSchema: objectSchema(map[string]interface{}{}),
	}, t.getSchema)
}

func (t *Toolset) searchCustomer(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error searching customers: %v", err), nil
	}
	query, ok := agent.StringArg(args, "query")
	if !ok || query == "" {
		return agent.ErrorResult("Error searching customers: query is required"), nil
	}
	limit := intArgOr(args, "limit", defaultSearchLimit)

	results, err := t.store.SearchCustomers(ctx, query, limit)
	if err != nil {
		return agent.ErrorResult("Error searching customers: %v", err), nil
	}

	var graphData *GraphData
	if len(results) > 0 {
		if id, ok := results[0]["id"].(string); ok {
			graphData = t.graphDataFor(ctx, id, 2)
		}
	}
	return t.jsonResult(Row{"customers": results, "graph_data": graphData})
}

func (t *Toolset) getCustomerDecisions(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error getting decisions: %v", err), nil
	}
	customerID, ok := agent.StringArg(args, "customer_id")
	if !ok || customerID == "" {
		return agent.ErrorResult("Error getting decisions: customer_id is required"), nil
	}
	decisionType, _ := agent.StringArg(args, "decision_type")
	limit := intArgOr(args, "limit", defaultDecisionLimit)

	results, err := t.store.GetCustomerDecisions(ctx, customerID, decisionType, limit)
	if err != nil {
		return agent.ErrorResult("Error getting decisions: %v", err), nil
	}
	return t.jsonResult(Row{
		"decisions":  results,
		"graph_data": t.graphDataFor(ctx, customerID, 2),
	})
}

func (t *Toolset) findSimilarDecisions(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error finding similar decisions: %v", err), nil
	}
	decisionID, ok := agent.StringArg(args, "decision_id")
	if !ok || decisionID == "" {
		return agent.ErrorResult("Error finding similar decisions: decision_id is required"), nil
	}
	limit := intArgOr(args, "limit", defaultSimilarLimit)

	results, err := t.analytics.FindSimilarDecisions(ctx, decisionID, limit)
	if err != nil {
		return agent.ErrorResult("Error finding similar decisions: %v", err), nil
	}
	return t.jsonResult(Row{
		"similar_decisions": results,
		"graph_data":        t.graphDataFor(ctx, decisionID, 2),
	})
}

func (t *Toolset) findPrecedents(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error finding precedents: %v", err), nil
	}
	scenario, ok := agent.StringArg(args, "scenario")
	if !ok || scenario == "" {
		return agent.ErrorResult("Error finding precedents: scenario is required"), nil
	}
	category, _ := agent.StringArg(args, "category")
	limit := intArgOr(args, "limit", defaultPrecedentLimit)

	results, err := t.vectors.FindPrecedents(ctx, scenario, category, limit)
	if err != nil {
		return agent.ErrorResult("Error finding precedents: %v", err), nil
	}

	var graphData *GraphData
	if len(results) > 0 {
		if id, ok := results[0]["id"].(string); ok {
			graphData = t.graphDataFor(ctx, id, 2)
		}
	}
	return t.jsonResult(Row{"precedents": results, "graph_data": graphData})
}

func (t *Toolset) getCausalChain(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error getting causal chain: %v", err), nil
	}
	decisionID, ok := agent.StringArg(args, "decision_id")
	if !ok || decisionID == "" {
		return agent.ErrorResult("Error getting causal chain: decision_id is required"), nil
	}
	direction, ok := agent.StringArg(args, "direction")
	if !ok || direction == "" {
		direction = "both"
	}
	depth := intArgOr(args, "depth", defaultChainDepth)

	results, err := t.store.GetCausalChain(ctx, decisionID, direction, depth)
	if err != nil {
		return agent.ErrorResult("Error getting causal chain: %v", err), nil
	}
	return t.jsonResult(Row{
		"causal_chain": results,
		"graph_data":   t.graphDataFor(ctx, decisionID, 3),
	})
}

func (t *Toolset) recordDecision(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error recording decision: %v", err), nil
	}
	decisionType, _ := agent.StringArg(args, "decision_type")
	category, _ := agent.StringArg(args, "category")
	reasoning, _ := agent.StringArg(args, "reasoning")
	if decisionType == "" || category == "" || reasoning == "" {
		return agent.ErrorResult("Error recording decision: decision_type, category, and reasoning are required"), nil
	}

	in := DecisionInput{
		DecisionType:    decisionType,
		Category:        category,
		Reasoning:       reasoning,
		ConfidenceScore: 0.8,
	}
	in.CustomerID, _ = agent.StringArg(args, "customer_id")
	in.AccountID, _ = agent.StringArg(args, "account_id")
	in.RiskFactors, _ = agent.StringSliceArg(args, "risk_factors")
	in.PrecedentIDs, _ = agent.StringSliceArg(args, "precedent_ids")
	if score, ok := agent.FloatArg(args, "confidence_score"); ok {
		in.ConfidenceScore = score
	}

	// The trace is still recorded when embedding generation fails; semantic
	// search just will not find it until re-embedded.
	if embedding, err := t.vectors.GenerateEmbedding(ctx, reasoning); err == nil {
		in.ReasoningEmbedding = embedding
	} else {
		t.logger.Warn("reasoning embedding failed", "error", err)
	}

	decisionID, err := t.store.RecordDecision(ctx, in)
	if err != nil {
		return agent.ErrorResult("Error recording decision: %v", err), nil
	}
	return t.jsonResult(Row{
		"success":     true,
		"decision_id": decisionID,
		"message":     "Decision recorded successfully with ID " + decisionID,
	})
}

func (t *Toolset) detectFraudPatterns(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error detecting fraud patterns: %v", err), nil
	}
	accountID, ok := agent.StringArg(args, "account_id")
	if !ok || accountID == "" {
		return agent.ErrorResult("Error detecting fraud patterns: account_id is required"), nil
	}
	neighborCount := intArgOr(args, "neighbor_count", defaultNeighborCount)

	results, err := t.analytics.DetectFraudPatterns(ctx, accountID, neighborCount)
	if err != nil {
		return agent.ErrorResult("Error detecting fraud patterns: %v", err), nil
	}
	return t.jsonResult(Row{"fraud_patterns": results})
}

func (t *Toolset) findDecisionCommunity(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error finding decision community: %v", err), nil
	}
	decisionID, ok := agent.StringArg(args, "decision_id")
	if !ok || decisionID == "" {
		return agent.ErrorResult("Error finding decision community: decision_id is required"), nil
	}
	exampleCount := intArgOr(args, "example_count", defaultExampleCount)

	results, err := t.analytics.FindDecisionCommunity(ctx, decisionID, exampleCount)
	if err != nil {
		return agent.ErrorResult("Error finding decision community: %v", err), nil
	}
	return t.jsonResult(Row{"community": results})
}

func (t *Toolset) findSharedVolumeAccounts(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error finding shared volume accounts: %v", err), nil
	}
	accountID, ok := agent.StringArg(args, "account_id")
	if !ok || accountID == "" {
		return agent.ErrorResult("Error finding shared volume accounts: account_id is required"), nil
	}

	results, err := t.analytics.FindSharedVolumeAccounts(ctx, accountID)
	if err != nil {
		return agent.ErrorResult("Error finding shared volume accounts: %v", err), nil
	}
	return t.jsonResult(Row{"accounts": results})
}

func (t *Toolset) getPolicy(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error getting policy: %v", err), nil
	}
	category, _ := agent.StringArg(args, "category")

	policies, err := t.store.GetPolicies(ctx, category)
	if err != nil {
		return agent.ErrorResult("Error getting policy: %v", err), nil
	}

	if name, ok := agent.StringArg(args, "policy_name"); ok && name != "" {
		match := matchPolicyByName(policies, name)
		if match == nil {
			return t.jsonResult(nil)
		}
		return t.jsonResult(match)
	}
	return t.jsonResult(policies)
}

func (t *Toolset) executeCypher(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	args, err := agent.ParseArguments(input)
	if err != nil {
		return agent.ErrorResult("Error executing query: %v", err), nil
	}
	cypher, ok := agent.StringArg(args, "cypher")
	if !ok || cypher == "" {
		return agent.ErrorResult("Error executing query: cypher is required"), nil
	}

	if err := ValidateReadOnlyCypher(cypher); err != nil {
		return agent.ErrorResult("Query not allowed: %v", err), nil
	}

	results, err := t.store.ExecuteCypher(ctx, cypher)
	if err != nil {
		return agent.ErrorResult("Error executing query: %v", err), nil
	}
	return t.jsonResult(results)
}

func (t *Toolset) getSchema(ctx context.Context, input json.RawMessage) (agent.ToolResult, error) {
	schema, err := t.store.GetSchema(ctx)
	if err != nil {
		return agent.ErrorResult("Error getting schema: %v", err), nil
	}
	return t.jsonResult(schema)
}

// graphDataFor fetches a visualization subgraph around an entity. Failures
// degrade to an empty subgraph rather than failing the tool call.
func (t *Toolset) graphDataFor(ctx context.Context, entityID string, depth int) *GraphData {
	data, err := t.store.GetGraphData(ctx, entityID, depth, graphDataLimit)
	if err != nil || data == nil {
		if err != nil {
			t.logger.Debug("graph data unavailable", "entity_id", entityID, "error", err)
		}
		return &GraphData{Nodes: []GraphNode{}, Relationships: []GraphRelationship{}}
	}
	return data
}

// jsonResult serializes a payload into a successful json tool result.
func (t *Toolset) jsonResult(payload interface{}) (agent.ToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return agent.ErrorResult("Error serializing result: %v", err), nil
	}
	return agent.ToolResult{Content: llmwire.JSONResult(raw)}, nil
}

// matchPolicyByName returns the first policy whose name contains the query,
// case-insensitively.
func matchPolicyByName(policies []Row, name string) Row {
	needle := strings.ToLower(name)
	for _, p := range policies {
		if pname, ok := p["name"].(string); ok && strings.Contains(strings.ToLower(pname), needle) {
			return p
		}
	}
	return nil
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func intArgOr(args map[string]interface{}, key string, fallback int) int {
	if v, ok := agent.IntArg(args, key); ok {
		return v
	}
	return fallback
}
