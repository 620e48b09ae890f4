package auth

// APIKeyAuth provides a simple API key check for the websocket upgrade
// endpoint. Game-level authorization is handled by Gate, not here.
type APIKeyAuth struct {
	validKeys map[string]struct{}
}

// NewAPIKeyAuth creates an API key authenticator. With no keys configured
// every request is allowed, which is the local development mode.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	validKeys := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key != "" {
			validKeys[key] = struct{}{}
		}
	}

	return &APIKeyAuth{validKeys: validKeys}
}

// IsValidKey checks if a key is valid.
func (a *APIKeyAuth) IsValidKey(key string) bool {
	if len(a.validKeys) == 0 {
		return true
	}

	_, valid := a.validKeys[key]
	return valid
}
