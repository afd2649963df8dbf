// Package skills loads markdown skill files that extend the agent's system
// prompt.
//
// Every *.md file in the skills directory is one skill. A file may start with
// a YAML frontmatter block:
//
//	---
//	name: research
//	description: How to research a topic with web tools
//	---
//	Always cite the URLs you used...
//
// Skills are concatenated in file name order and separated by "---" rules.
// A Library can watch its directory and reload when files change, so edits
// apply to the next agent run without a restart.
//
// Usage:
//
//	lib := skills.NewLibrary("~/.freeagent/skills")
//	if err := lib.Load(); err != nil { ... }
//	lib.Watch(ctx)
//	prompt := lib.Content()
package skills
