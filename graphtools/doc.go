// Package graphtools exposes a financial institution's context graph to
// the agentic loop as a set of registered tools.
//
// The context graph stores decision traces: the reasoning, risk factors,
// and causal relationships behind significant decisions. Tools are grouped
// by the collaborator that backs them:
//
//   - GraphStore: customer search, decision history, causal chains,
//     policies, decision recording, raw Cypher, and schema introspection
//   - GraphAnalytics: structural similarity, fraud patterns, community
//     detection, and shared transaction volume
//   - VectorSearch: semantic precedent search and embedding generation
//
// Wire the tools into a registry and hand it to a session:
//
//	registry := agent.NewToolRegistry()
//	graphtools.NewToolset(store, analytics, vectors).Register(registry)
//	session := agent.NewSession(transport, registry, graphtools.SystemPrompt, nil)
//
// Every handler contains its own failures: a collaborator error becomes an
// error-tagged result fed back to the model, never a loop failure.
package graphtools
