// Package protocol owns the ZNP wire vocabulary shared by every layer.
//
// Ownership boundary:
// - command header (type/subsystem/id) primitives
// - typed parameter values and positional payload encoding
// - decoded message shape and match predicates
package protocol
