// Package identity implements users, API keys, JWT login, guest/admin
// bootstrap, and code-assistant project membership (spec §4.6, §3).
package identity

import "time"

// User is the gateway's account entity (spec §3 "User").
type User struct {
	ID           string `json:"id" bson:"_id"`
	Username     string `json:"username" bson:"username"`
	Key          string `json:"key,omitempty" bson:"key,omitempty"`
	PasswordHash string `json:"password_hash,omitempty" bson:"password_hash,omitempty"`
	IsAdmin      bool   `json:"is_admin" bson:"is_admin"`
	IsActive     bool   `json:"is_active" bson:"is_active"`
}

// GuestUsername is the reserved, never-persisted username shared by every
// transient guest.
const GuestUsername = "guest"

// IsGuest reports whether u is a transient guest user.
func (u User) IsGuest() bool {
	return u.Username == GuestUsername
}

// Project is the code-assistant project entity (spec §3 "Project").
type Project struct {
	ID       string        `json:"id" bson:"_id"`
	Admin    string        `json:"admin" bson:"admin"`
	Name     string        `json:"name" bson:"name"`
	Users    []string      `json:"users" bson:"users"`
	InviteID string        `json:"invite_id" bson:"invite_id"`
	Config   ProjectConfig `json:"config" bson:"config"`
}

// HasMember reports whether userID is a member (or the admin-by-id is a
// separate check left to callers, since Admin is stored by username).
func (p Project) HasMember(userID string) bool {
	for _, u := range p.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// ProjectConfig holds continue.dev-style model/context configuration
// (spec §3 "ProjectConfig").
type ProjectConfig struct {
	Models                []ModelEntry          `json:"models" bson:"models"`
	TabAutocompleteModel  *ModelEntry            `json:"tabAutocompleteModel,omitempty" bson:"tab_autocomplete_model,omitempty"`
	TabAutocompleteOption map[string]any         `json:"tabAutocompleteOptions,omitempty" bson:"tab_autocomplete_options,omitempty"`
	EmbeddingsProvider    *EmbeddingsProvider    `json:"embeddingsProvider,omitempty" bson:"embeddings_provider,omitempty"`
	CustomCommands        []CustomCommand        `json:"customCommands,omitempty" bson:"custom_commands,omitempty"`
	ContextProviders      []ContextProviderEntry `json:"contextProviders,omitempty" bson:"context_providers,omitempty"`
}

// ModelEntry is one entry of ProjectConfig.Models.
type ModelEntry struct {
	Title    string            `json:"title" bson:"title"`
	Provider string            `json:"provider" bson:"provider"` // always "ollama"
	Model    string            `json:"model" bson:"model"`
	APIBase  string            `json:"apiBase,omitempty" bson:"api_base,omitempty"`
	APIKey   string            `json:"apiKey,omitempty" bson:"api_key,omitempty"`
	Headers  map[string]string `json:"requestHeaders,omitempty" bson:"request_headers,omitempty"`
}

// EmbeddingsProvider describes the optional embeddings backend.
type EmbeddingsProvider struct {
	Provider string `json:"provider" bson:"provider"`
	APIBase  string `json:"apiBase,omitempty" bson:"api_base,omitempty"`
	APIKey   string `json:"apiKey,omitempty" bson:"api_key,omitempty"`
}

// CustomCommand is a user-defined prompt shortcut.
type CustomCommand struct {
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`
	Prompt      string `json:"prompt" bson:"prompt"`
}

// ContextProviderEntry is a tagged context-provider descriptor (spec §3:
// open|docs|code|codebase|diff|search|url).
type ContextProviderEntry struct {
	Name   string         `json:"name" bson:"name"`
	Params map[string]any `json:"params,omitempty" bson:"params,omitempty"`
}

// Session is the ephemeral prompt-dedup entity (spec §3 "Session").
type Session struct {
	ID            string    `json:"id" bson:"_id"`
	UserID        string    `json:"user_id" bson:"user_id"`
	MessagesHash  string    `json:"messages_hash,omitempty" bson:"messages_hash,omitempty"`
	ContextHash   string    `json:"context_hash,omitempty" bson:"context_hash,omitempty"`
	ExpiresAfter  time.Time `json:"expires_after" bson:"expires_after"`
}

// SessionTTL is the fixed 1-hour dedup window (spec §3).
const SessionTTL = time.Hour
