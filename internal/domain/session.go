package domain

import (
	"fmt"
	"time"
)

// Role identifies who authored a session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleProvider  Role = "provider"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleProvider:
		return true
	}
	return false
}

// Message is a single persisted session entry. Seq is assigned by the store
// on append and strictly increases within a session.
type Message struct {
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	ProviderName string    `json:"providerName,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Seq          int64     `json:"seq"`
}

// ProviderDescriptor is the routing-facing identity of a capability provider.
type ProviderDescriptor struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RoutingDecision is produced once per request and names exactly one provider.
type RoutingDecision struct {
	Selected  ProviderDescriptor
	Score     float64
	Fallback  bool
	Rationale string
}

// FormattedResponse is what the coordinator returns to its caller. The
// provider name is always set so content is never unattributed.
type FormattedResponse struct {
	ProviderName string `json:"providerName"`
	Content      string `json:"content"`
}

// String renders the response in the "<provider>: <content>" reply format.
func (r FormattedResponse) String() string {
	return fmt.Sprintf("%s: %s", r.ProviderName, r.Content)
}
