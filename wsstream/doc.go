// Package wsstream carries observation streams over WebSocket.
//
// A client opens GET /observe and sends its rendezvous nonce as the first
// message, a JSON string. The connection then waits in a
// rendezvous.Table until the matching registration arrives on the
// control endpoint, after which every delivered claim is written as one
// JSON text message:
//
//	{"claim":{"data":...,"previous":...},"ownerRef":"...","claimId":"..."}
//
// The server never reads anything else from the client; further client
// messages are discarded.
package wsstream
