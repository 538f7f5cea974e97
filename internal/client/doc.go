// Package client dials a chatroom server and drives the interactive
// terminal session on top of it.
package client
