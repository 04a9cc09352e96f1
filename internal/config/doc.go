// Package config loads the tracker configuration file.
//
// # Configuration Discovery
//
// Load follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/infinario/config.toml
//  3. If the file doesn't exist, fall back to defaults
//  4. If a field is missing or blank, use its default
//
// # TOML Format
//
//	endpoint = "http://api.infinario.com/bulk"
//	project_token = "..."
//	customer_id = ""
//	proxy = ""
//	timeout = "30s"
//	chunk_size = 1024
//	identity_path = "~/.local/share/infinario/identity.toml"
//
// Every field is optional and trimmed. Tilde expansion is applied to
// identity_path. A missing file is not an error; a malformed one is, and so
// is a timeout that does not parse as a positive duration or a negative
// chunk_size.
//
// Load does not require a project token because the CLI may supply one
// through flags or the environment. Call Validate once every source has been
// merged.
package config
