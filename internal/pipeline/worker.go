package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/pageindex/internal/errs"
	"github.com/dgallion1/pageindex/internal/parser"
)

// Worker processes a single upload job.
type Worker struct {
	indexer *Indexer
	log     *slog.Logger
}

func NewWorker(indexer *Indexer, log *slog.Logger) *Worker {
	return &Worker{indexer: indexer, log: log}
}

// Process runs extract, build and store for a job, recording each phase.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "filename", job.Filename)

	if !job.Force && w.indexer.Exists(job.DocID) {
		log.Info("duplicate document, skipping")
		job.SetStatus(StatusDupSkipped, "dedup")
		return
	}

	// Phase 1: Extract
	job.SetStatus(StatusExtracting, "extracting")
	parsed, err := parser.Extract(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		w.fail(log, job, "extracting", err)
		return
	}
	log.Info("document extracted", "format", parsed.Format, "units", parsed.Len())

	// Phase 2: Build
	job.SetStatus(StatusBuilding, "building tree")
	tree, err := w.indexer.Build(ctx, parsed, job.DocID)
	if err != nil {
		w.fail(log, job, "building tree", err)
		return
	}

	// Phase 3: Store
	job.SetStatus(StatusStoring, "storing")
	doc, err := w.indexer.Commit(ctx, tree, parsed)
	if err != nil {
		w.fail(log, job, "storing", err)
		return
	}
	if err := w.indexer.Directory().Save(); err != nil {
		w.fail(log, job, "storing", fmt.Errorf("save directory: %w", err))
		return
	}
	job.Complete(doc)
}

func (w *Worker) fail(log *slog.Logger, job *Job, phase string, err error) {
	log.Error("job failed", "phase", phase, "error", err)
	job.AddError(errs.UserMessage(err))
	job.AddError(err.Error())
	job.SetStatus(StatusFailed, phase)
}
