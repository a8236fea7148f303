package graphtools

import "context"

// Row is one record returned by a graph query. Shapes vary by query, so
// rows stay schemaless and are serialized as-is into tool results.
type Row map[string]interface{}

// GraphNode is one node in a graph visualization payload.
type GraphNode struct {
	ID         string                 `json:"id"`
	Labels     []string               `json:"labels"`
	Properties map[string]interface{} `json:"properties"`
}

// GraphRelationship is one edge in a graph visualization payload.
type GraphRelationship struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	StartNodeID string                 `json:"startNodeId"`
	EndNodeID   string                 `json:"endNodeId"`
	Properties  map[string]interface{} `json:"properties"`
}

// GraphData is a subgraph centered on an entity, attached to tool results
// so callers can render what the model was looking at.
type GraphData struct {
	Nodes         []GraphNode         `json:"nodes"`
	Relationships []GraphRelationship `json:"relationships"`
}

// DecisionInput is the payload for recording a new decision trace.
type DecisionInput struct {
	DecisionType       string
	Category           string
	Reasoning          string
	CustomerID         string
	AccountID          string
	RiskFactors        []string
	PrecedentIDs       []string
	ConfidenceScore    float64
	ReasoningEmbedding []float64
}

// GraphStore is the primary context graph collaborator.
type GraphStore interface {
	SearchCustomers(ctx context.Context, query string, limit int) ([]Row, error)
	GetCustomerDecisions(ctx context.Context, customerID, decisionType string, limit int) ([]Row, error)
	GetCausalChain(ctx context.Context, decisionID, direction string, depth int) ([]Row, error)
	GetPolicies(ctx context.Context, category string) ([]Row, error)

	// RecordDecision creates a decision trace and returns its assigned id.
	RecordDecision(ctx context.Context, input DecisionInput) (string, error)

	// ExecuteCypher runs an already-validated read-only query.
	ExecuteCypher(ctx context.Context, cypher string) ([]Row, error)

	GetSchema(ctx context.Context) (Row, error)
	GetGraphData(ctx context.Context, centerNodeID string, depth, limit int) (*GraphData, error)
}

// GraphAnalytics runs graph data science projections over the store.
type GraphAnalytics interface {
	FindSimilarDecisions(ctx context.Context, decisionID string, limit int) ([]Row, error)
	DetectFraudPatterns(ctx context.Context, accountID string, neighborCount int) ([]Row, error)
	FindDecisionCommunity(ctx context.Context, decisionID string, exampleCount int) ([]Row, error)
	FindSharedVolumeAccounts(ctx context.Context, accountID string) ([]Row, error)
}

// VectorSearch provides semantic similarity over decision reasoning text.
type VectorSearch interface {
	FindPrecedents(ctx context.Context, scenario, category string, limit int) ([]Row, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}
