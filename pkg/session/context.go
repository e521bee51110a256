package session

import (
	"encoding/json"
	"sync"
)

// SessionContext is the per-session mutable state shared across all
// concurrently firing event handlers of one session. All access goes through
// the embedded mutex; accessors hand out copies, never internal references.
// Cross-session state is never shared.
type SessionContext struct {
	mu sync.Mutex

	userID     string
	userName   string
	templateID string

	observations []string
	flags        map[string]any
	modality     map[string]bool
	panels       map[string]any
}

// NewSessionContext creates an empty session context with default modality
// toggles (camera and screenshare off).
func NewSessionContext() *SessionContext {
	return &SessionContext{
		flags: map[string]any{},
		modality: map[string]bool{
			"camera":      false,
			"screenshare": false,
		},
		panels: map[string]any{},
	}
}

// participantMetadata is the JSON shape supplied by the room runtime at join.
type participantMetadata struct {
	UserID            string `json:"user_id"`
	SessionTemplateID string `json:"session_template_id"`
}

// ApplyMetadata parses participant metadata and fills in identity fields.
// A parse failure leaves the context untouched; the caller logs and proceeds
// with defaults.
func (c *SessionContext) ApplyMetadata(raw string) error {
	var meta participantMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if meta.UserID != "" {
		c.userID = meta.UserID
	}
	if meta.SessionTemplateID != "" {
		c.templateID = meta.SessionTemplateID
	}
	return nil
}

// SetUser records the user identity.
func (c *SessionContext) SetUser(id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
	c.userName = name
}

// UserID returns the user identifier, or "" if unknown.
func (c *SessionContext) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// UserName returns the display name, or "" if unknown.
func (c *SessionContext) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

// TemplateID returns the session template identifier, or "" if unknown.
func (c *SessionContext) TemplateID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.templateID
}

// AddObservation appends a free-text observation. Insertion order is kept.
func (c *SessionContext) AddObservation(observation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observations = append(c.observations, observation)
}

// Observations returns a copy of the observation list.
func (c *SessionContext) Observations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.observations))
	copy(out, c.observations)
	return out
}

// SetFlag sets a named session flag. Last write wins.
func (c *SessionContext) SetFlag(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[key] = value
}

// Flag returns a session flag and whether it was set.
func (c *SessionContext) Flag(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.flags[key]
	return v, ok
}

// Flags returns a copy of the flag map.
func (c *SessionContext) Flags() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.flags))
	for k, v := range c.flags {
		out[k] = v
	}
	return out
}

// SetModality toggles a modality such as "camera" or "screenshare".
func (c *SessionContext) SetModality(name string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modality[name] = enabled
}

// Modality returns the state of a modality toggle.
func (c *SessionContext) Modality(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modality[name]
}

// SetPanel stores UI panel state under a key.
func (c *SessionContext) SetPanel(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panels[key] = value
}

// Panels returns a copy of the panel-state map.
func (c *SessionContext) Panels() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.panels))
	for k, v := range c.panels {
		out[k] = v
	}
	return out
}
