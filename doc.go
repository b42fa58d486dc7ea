// Package loopbackd implements a local singleton: a single in-memory object
// shared by any number of independent processes on one machine, hosted
// inside an automatically-managed background daemon bound to loopback.
//
// Clients never talk to the object directly. A client asks the package for
// a session against a logical name; the connect-or-spawn coordinator in the
// client package either finds a live daemon and connects to it, or wins a
// filesystem lock, spawns one, and waits for it to come up. Every method
// call on the shared object is then forwarded over a framed loopback
// connection to the daemon, which serializes the call through a single
// worker against the one object instance it owns.
//
// Subpackages:
//
//   - internal/runtimedir: the filesystem rendezvous point (metadata, auth
//     token, lock file) for a logical name.
//   - internal/frame: length-prefixed framing over the loopback byte stream.
//   - internal/wire: the session protocol's message envelope.
//   - internal/executor: the daemon's single FIFO worker.
//   - internal/dispatch: reflection-based method lookup against the
//     singleton object.
//   - codec: the pluggable payload codec boundary.
//   - factory: the object-factory collaborator (string reference to
//     constructor).
//   - daemon: the acceptor and idle-TTL lifecycle controller.
//   - client: the connect-or-spawn coordinator and the proxy.
//   - cmd/loopbackd: the daemon entrypoint binary; the coordinator spawns
//     its hidden serve subcommand, and its status, call and shutdown
//     subcommands are run by hand.
package loopbackd
