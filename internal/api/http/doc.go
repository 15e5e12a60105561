// Package http provides the HTTP handlers consuming the workspace store:
// character CRUD, run creation and status transitions, workspace inspection
// and deletion, archive export/import, and the manual reap trigger.
//
// Handlers operate on the workspace id resolved by the session middleware;
// they never read session tokens themselves.
package http
