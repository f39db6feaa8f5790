// Package rendezvous joins the two independent legs of a subscription:
// a duplex stream that carries observed claims, and a control-plane
// request that says what to observe.
//
// The client mints a nonce, opens the stream and sends the nonce as the
// stream's first message, then registers the subscription naming the
// same nonce, retrying briefly until the server has seen the stream. The
// server keeps streams that announced a nonce in a Table until the
// matching registration binds them to a store observer. Because the
// observer is created only after the stream is known, no claim accepted
// after a successful registration can be missed.
package rendezvous
