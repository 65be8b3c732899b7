package queue

// Job operations carried in a GraphJobMsg.
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// GraphJobMsg is the wire format of a queued graph job. For update
// jobs DocumentIDs holds only the newly added documents; extraction
// re-runs over those while resolution sees the full existing graph.
type GraphJobMsg struct {
	Scope       string   `json:"scope"`
	Name        string   `json:"name"`
	DocumentIDs []string `json:"document_ids"`
	Operation   string   `json:"operation"`
}
