// Package client is the Go client of the control plane HTTP API. The rolloutctl
// commands and joining managers use it.
package client
