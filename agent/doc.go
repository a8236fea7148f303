// Package agent implements the agentic tool-calling loop over the llmwire
// transport layer.
//
// A Session owns one conversation: the append-only transcript, the
// iteration budget, and the tool-use id to name map needed to correlate
// results. The loop repeatedly sends the transcript to the model, forwards
// streamed text to the caller as it arrives, dispatches completed tool-use
// blocks through the ToolRegistry, folds the results back into the
// transcript, and goes around again until the model stops requesting tools
// or the budget runs out.
//
// # Quick start
//
//	transport, _ := llmwire.NewTransportFromEnv()
//	registry := agent.NewToolRegistry()
//	// register tools...
//
//	session := agent.NewSession(transport, registry, systemPrompt, nil)
//	result, err := session.Run(ctx, "Find precedents for this transfer", nil)
//	fmt.Println(result.Response)
//
// Streaming callers consume the six-kind event sequence instead:
//
//	for ev := range session.RunStream(ctx, message, nil) {
//	    switch ev.Type {
//	    case agent.EventText:
//	        fmt.Print(ev.Text)
//	    case agent.EventDone:
//	        fmt.Println()
//	    }
//	}
//
// Tool handlers never crash the loop: unknown names, handler errors, and
// handler panics all become error-tagged tool results fed back to the
// model. Only a transport failure terminates a run, and even then any
// already-streamed text has been delivered.
package agent
