// Package store persists per-user agent state in SQLite.
//
// It holds long-term memory facts, one working plan per user, a todo list
// and a log of agent runs. Every row is scoped by an owner key (the session
// key of the chat user); no query ever crosses owners.
//
// The database runs in WAL mode and is safe for concurrent use.
package store
