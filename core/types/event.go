package types

// Event is the generic payload shape shared by every typed event once it is
// flattened for indexers and RPC subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
