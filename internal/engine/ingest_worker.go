package engine

import (
	"context"
	"log"
	"time"
)

// ingestWorker is a worker goroutine that processes ingestion jobs.
// It runs continuously until the ingestion queue is closed.
func (e *VaultEngine) ingestWorker(ctx context.Context, workerID int) {
	defer e.workerWaitGroup.Done()

	log.Printf("Ingestion worker %d started", workerID)

	for job := range e.ingestQueue {
		e.processIngestJob(ctx, workerID, job)
	}

	log.Printf("Ingestion worker %d stopped", workerID)
}

// processIngestJob processes a single ingestion job through the enrichment
// pipeline: embedding, extraction, dedup-checked graph writes. The
// originating write was already committed and acknowledged, so failures
// here are logged and reported through the failure callback but never
// retried and never surfaced to the caller.
func (e *VaultEngine) processIngestJob(ctx context.Context, workerID int, job *IngestJob) {
	log.Printf("Worker %d processing job %s (write %s, source %s)",
		workerID, job.JobID, job.WriteID, job.SourceRef)

	// Use background context for database operations so an in-flight job
	// finishes its writes during shutdown
	dbCtx := context.Background()

	store, err := e.stores.Store(job.UserID)
	if err != nil {
		e.reportJobFailure(workerID, job, err)
		return
	}

	if err := e.enrich(dbCtx, store, job); err != nil {
		e.reportJobFailure(workerID, job, err)
		return
	}

	log.Printf("Worker %d completed job %s for write %s", workerID, job.JobID, job.WriteID)

	// Callbacks are set before Start; reading without the engine lock keeps
	// in-flight jobs from blocking against Shutdown, which holds it.
	if e.onJobComplete != nil {
		e.onJobComplete(job.UserID, job.JobID)
	}
}

// reportJobFailure logs a failed job and fires the failure callback.
func (e *VaultEngine) reportJobFailure(workerID int, job *IngestJob, err error) {
	log.Printf("ERROR: Worker %d job %s failed for write %s: %v",
		workerID, job.JobID, job.WriteID, err)

	if e.onJobFailed != nil {
		e.onJobFailed(job.UserID, job.JobID, err)
	}
}

// startWorkerPool starts the worker goroutines.
func (e *VaultEngine) startWorkerPool(ctx context.Context) {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.ingestWorker(ctx, i)
	}

	log.Printf("Started %d ingestion workers", e.config.NumWorkers)
}

// stopWorkerPool stops the worker goroutines gracefully.
func (e *VaultEngine) stopWorkerPool(ctx context.Context) error {
	// Close the ingestion queue (no more jobs)
	close(e.ingestQueue)

	// Wait for workers to drain (with timeout)
	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All ingestion workers finished gracefully")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		remaining := e.getQueueLength()
		log.Printf("WARNING: Shutdown timeout reached, %d ingestion jobs may be dropped", remaining)
		return nil
	case <-ctx.Done():
		remaining := e.getQueueLength()
		log.Printf("WARNING: Context cancelled, %d ingestion jobs may be dropped", remaining)
		return ctx.Err()
	}
}
