/*
Package controlinterface implements the workload-facing IPC: two named
pipes per workload carrying length-prefixed CBOR frames of the
ToAnkaios/FromAnkaios unions.

The agent acts as a proxy. After the initial hello exchange, every
request is checked against the workload's controlInterfaceAccess rules
(deny wins, default closed) and, when approved, forwarded to the server
re-attributed to the originating workload. Denied requests are answered
locally with "access denied" and never reach the server. Sessions whose
rules allow reading workload states also receive the server's
cluster-wide state deltas as push messages.
*/
package controlinterface
