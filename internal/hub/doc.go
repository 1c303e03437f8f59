// Package hub implements a multi-server MCP client layer: transports for
// stdio, HTTP and SSE servers, the authentication providers layered under
// them, and the aggregator that merges every configured server's tools into
// one registry keyed by "<server>::<tool>".
package hub
