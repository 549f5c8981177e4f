package domain

import "strings"

// Credentials are the broker session tokens a collaborator hands in with a
// request. The ledger never persists or inspects them.
type Credentials struct {
	APIKey      string
	AccessToken string
}

// TenantContext identifies the brokerage account an operation runs for.
type TenantContext struct {
	TenantID    string
	Credentials Credentials
}

// Validate rejects an empty tenant id.
func (tc TenantContext) Validate() error {
	if strings.TrimSpace(tc.TenantID) == "" {
		return &ValidationError{Field: "tenant_id", Reason: "must not be empty"}
	}
	return nil
}
