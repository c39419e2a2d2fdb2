// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// Reasons recorded on a DocumentCleanupTask.
const (
	ReasonIngestFailed = "ingest_failed"
	ReasonChatDeleted  = "chat_deleted"
)

// DocumentCleanupTask asks the cleanup worker to remove everything stored for one document:
// its chunks in the vector index, the original PDF object and the documents row.
type DocumentCleanupTask struct {
	DocumentID string `json:"document_id"`
	ObjectKey  string `json:"object_key,omitempty"`
	Reason     string `json:"reason"`
}
