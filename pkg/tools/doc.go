// Package tools implements the built-in tools the agent can call.
//
// Register adds every tool to a toolexecutor registry. Handlers take the
// session of the calling user from the context (toolexecutor.SessionKeyFromContext)
// and scope all stored data by it. Tools of the "system" feature (shell and
// file system access) are confined to one working directory and only reach
// the model when the feature is enabled.
package tools
