// Package server runs the chatroom accept loop and one dispatch loop per
// admitted connection.
//
// Admission happens in the accept path: a connection the registry cannot
// hold is closed before any frame is read. Shutdown is cooperative; each
// dispatch loop observes cancellation at its next readiness wait.
package server
