// Package config provides configuration loading, merging, and path management.
//
// # Configuration Loading
//
// The Load function searches for and merges configuration from multiple
// sources in priority order:
//
//  1. Built-in defaults
//  2. Global config (~/.config/roomsync/, XDG compatible)
//  3. Project config (roomsync.json/roomsync.jsonc at the directory
//     root, then .roomsync/roomsync.json(c))
//  4. ROOMSYNC_CONFIG file
//  5. ROOMSYNC_CONFIG_CONTENT inline JSON
//  6. .env in the project directory, then environment variables
//
// Later sources override earlier ones; environment variables have the
// highest precedence.
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with Comments) are supported; JSONC is
// processed using tidwall/jsonc. Duration fields accept either a Go
// duration string ("750ms", "2s") or a millisecond number.
//
// # Variable Interpolation
//
// Configuration files support two types of variable interpolation:
//   - {env:VAR_NAME} - expands to environment variable values
//   - {file:path} - expands to file contents (escaped for JSON)
//
// File paths in {file:path} placeholders may be absolute, relative to
// the config file directory, or ~/ prefixed.
//
// Example:
//
//	{
//	  // local dev server
//	  "serverUrl": "http://localhost:4000",
//	  "userId": "{env:ROOMSYNC_USER_ID}",
//	  "docSyncTimeout": "2s"
//	}
//
// # Path Management
//
// The Paths type provides XDG Base Directory compliant locations:
//   - Data: ~/.local/share/roomsync (XDG_DATA_HOME)
//   - Config: ~/.config/roomsync (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/roomsync (XDG_CACHE_HOME)
//   - State: ~/.local/state/roomsync (XDG_STATE_HOME)
//
// On Windows these map to APPDATA as appropriate.
package config
