// Package llmwire is the model transport layer for the context-graph agent.
// It defines provider-neutral wire types (content blocks, responses, stream
// events) and decodes every provider-specific shape exactly once, at this
// boundary. Nothing above llmwire depends on any vendor SDK object model.
//
// # Architecture
//
// The package has three layers:
//
//   - Wire types: ContentBlock, Turn, ModelResponse, ModelEvent, the
//     closed tagged unions shared by every transport.
//   - Transport: the Send/SendStream contract, the error taxonomy, and
//     bounded retry for idempotent non-streaming calls.
//   - Adapters: GollmTransport wraps gollm (github.com/teilomillet/gollm)
//     to implement Transport for OpenAI- and Anthropic-family providers.
//
// # Stream assembly
//
// Streaming responses arrive as block-indexed events. StreamAssembler
// reconstructs full content blocks from them: text deltas are concatenated,
// and a tool-use block's input JSON is accumulated as raw bytes and parsed
// exactly once when the block's stop event arrives. A parse failure marks
// that block malformed without failing the stream.
//
// # Quick start
//
//	transport, err := llmwire.NewTransportFromEnv()
//	resp, err := transport.Send(ctx, llmwire.SendRequest{
//	    Turns:  []llmwire.Turn{llmwire.UserTurn("Find precedents for this wire transfer")},
//	    System: "You are a financial decision assistant.",
//	})
//	fmt.Println(resp.Text())
package llmwire
