package engine

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/memvault/memvault/pkg/types"
)

// queueIngestJob attempts to queue an ingestion job.
// Returns true if the job was queued successfully, false if the queue is
// full or the engine is shutting down. A dropped job is logged and gone;
// the pipeline never retries on its own.
func (e *VaultEngine) queueIngestJob(job *IngestJob) bool {
	// Check if worker context is cancelled (shutdown in progress)
	if e.workerCtx != nil && e.workerCtx.Err() != nil {
		return false
	}

	// Try to queue (non-blocking)
	select {
	case e.ingestQueue <- job:
		return true
	default:
		// Queue is full or closed
		log.Printf("WARNING: Ingestion queue full (size=%d), dropping job for write %s",
			e.config.QueueSize, job.WriteID)
		return false
	}
}

// createIngestJob creates a new ingestion job for a committed write.
func createIngestJob(userID, writeID, sourceRef, text, agent string, origin types.Origin) *IngestJob {
	return &IngestJob{
		UserID:    userID,
		WriteID:   writeID,
		JobID:     uuid.NewString(),
		SourceRef: sourceRef,
		Text:      text,
		Agent:     agent,
		Origin:    origin,
		Timestamp: time.Now(),
	}
}

// getQueueLength returns the current number of jobs in the queue.
func (e *VaultEngine) getQueueLength() int {
	return len(e.ingestQueue)
}
