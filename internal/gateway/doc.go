// Package gateway wires the bella-gateway server together and serves the
// platform webhook.
//
// # Overview
//
// The gateway owns component lifecycle: the key-value session store (Redis or
// in-memory), the SQLite message ledger, the platform client, the streaming
// model client, and the optional voice services. It serves two HTTP surfaces:
//
//   - the webhook endpoint: GET for the platform's URL verification
//     handshake, POST for message events
//   - /health for liveness checks
//
// # Request Flow
//
// An inbound POST is parsed into a bot.Event and handed to the bot
// controller, which returns the synchronous reply written back as XML. The
// webhook must answer within the platform's deadline, so model calls and
// speech synthesis run in background goroutines; Shutdown waits for them so a
// restart never strands a user in the busy state.
package gateway
