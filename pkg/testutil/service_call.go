package testutil

import "time"

// ServiceCall records a service call for testing/verification
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
}

// EntityIDs returns the call's entity_id as a list. Decoded JSON gives either
// a single string or a list.
func (c ServiceCall) EntityIDs() []string {
	switch v := c.ServiceData["entity_id"].(type) {
	case string:
		return []string{v}
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}

// Brightness returns the brightness a light.turn_on call asks for
func (c ServiceCall) Brightness() (int, bool) {
	b, ok := c.ServiceData["brightness"].(float64)
	return int(b), ok
}

// FilterServiceCalls filters service calls by domain and service
func FilterServiceCalls(calls []ServiceCall, domain, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// FindServiceCallWithEntityID finds the most recent service call targeting entityID
func FindServiceCallWithEntityID(calls []ServiceCall, domain, service, entityID string) *ServiceCall {
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain != domain || call.Service != service {
			continue
		}
		for _, id := range call.EntityIDs() {
			if id == entityID {
				return &call
			}
		}
	}
	return nil
}
