// Package session tracks board sessions in Redis so that operators and other
// server instances can see who is connected. The in-process broadcaster
// remains the authority for fan-out; this is presence only.
package session
