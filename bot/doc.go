/*
Package bot implements a multi-server IRC connection engine.

Each server is driven by a Conn: a per-connection state machine that
dials (optionally over TLS or a custom dialer), performs the NICK/USER
login handshake, joins the configured channels, and then keeps the
session alive with ping/pong bookkeeping. When a session drops for any
reason the Conn reconnects on its own with exponential backoff.

A Manager supervises the fleet. It owns one Conn per configured server,
fans handler registrations out to every connection, tracks which
channels the bot is actually in, and provides bulk operations (send to
all, join, part, connect, disconnect) plus a clean bounded shutdown. It
can also supervise background tasks that share its lifecycle.

Inbound traffic is surfaced through typed callbacks (message, notice,
join, part, quit, numeric, raw, disconnect) registered either per
connection or fleet-wide through the Manager. Handlers run on the
connection's reader goroutine; a panicking handler is isolated and
logged without killing the connection.

Outbound chat traffic passes through a per-connection token bucket so
the bot stays inside typical server flood limits. Liveness-critical
commands (PONG, QUIT, NICK, USER) bypass the limiter.
*/
package bot
