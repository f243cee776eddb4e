// Package client wraps the request/response side of the wire protocol
// for the ank CLI.
package client
