// Package config loads the freeagent configuration.
//
// Values come from a JSON file read with viper (default
// ~/.freeagent/freeagent.json) and are then overridden by the conventional
// environment variables: CLAUDE_API_KEYS, GEMINI_API_KEYS, GROQ_API_KEYS,
// MISTRAL_API_KEYS (comma separated), TELEGRAM_BOT_TOKEN,
// TELEGRAM_ALLOWED_USERS, DEFAULT_PROVIDER, MAX_AGENT_TURNS,
// ENABLE_SYSTEM_TOOLS, WORKING_DIR and BASH_TIMEOUT.
//
// Configuration is read once at startup and never reloaded.
package config
