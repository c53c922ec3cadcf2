// Package commands wires the wasock CLI: pairing a new device and running
// an established session against a configured endpoint.
package commands
