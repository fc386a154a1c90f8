package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/desertthunder/modstore/internal/formatter"
)

// BulkExportOpts contains configuration for bulk record exports.
type BulkExportOpts struct {
	Format     formatter.Format // Export format: csv, md, txt
	OutputDir  string           // Base output directory (default: moderation_export_{epoch})
	NumWorkers int              // Concurrent workers (default: 4, max 8)
}

// PlayerExportResult is the outcome of exporting one player.
type PlayerExportResult struct {
	PlayerUUID string
	Username   string
	Success    bool
	Files      []string
	Error      error
}

func (r PlayerExportResult) name() string {
	if r.Username != "" {
		return r.Username
	}
	return r.PlayerUUID
}

// BulkExportResult summarizes a bulk export.
type BulkExportResult struct {
	TotalPlayers      int
	SuccessfulExports int
	FailedExports     int
	OutputDirectory   string
	ManifestPath      string
	Results           []PlayerExportResult // Sorted by player UUID
}

type exportJob struct {
	playerUUID string
}

// BulkExport exports every known player's record into opts.OutputDir.
//
// Records are loaded and written by a pool of workers. A player that fails to export is reported
// in the result and the manifest; it does not stop the others.
func (e *Exporter) BulkExport(ctx context.Context, prog chan<- ProgressUpdate, opts BulkExportOpts) (*BulkExportResult, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("moderation_export_%d", e.now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 8 {
		opts.NumWorkers = 8
	}
	if opts.Format == "" {
		opts.Format = formatter.Text
	}

	uuids, err := e.source.PlayerUUIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	e.sendProgress(prog, listPlayersUpdate(len(uuids)))

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &BulkExportResult{
		TotalPlayers:    len(uuids),
		OutputDirectory: opts.OutputDir,
		Results:         make([]PlayerExportResult, 0, len(uuids)),
	}

	jobs := make(chan exportJob, len(uuids))
	results := make(chan PlayerExportResult, len(uuids))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go e.exportWorker(ctx, &wg, jobs, results, opts)
	}

	for _, id := range uuids {
		jobs <- exportJob{playerUUID: id}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			e.sendProgress(prog, exportCompletedUpdate(completed, len(uuids), res))
		} else {
			result.FailedExports++
			e.sendProgress(prog, exportFailedUpdate(completed, len(uuids), res))
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	sort.Slice(result.Results, func(i, j int) bool {
		return result.Results[i].PlayerUUID < result.Results[j].PlayerUUID
	})

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteManifest(manifestEntries(result), opts.Format, manifestPath, e.now()); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	e.sendProgress(prog, manifestUpdate(manifestPath))
	return result, nil
}

// exportWorker exports players from the jobs channel until it is drained or ctx is done.
func (e *Exporter) exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan exportJob,
	results chan<- PlayerExportResult,
	opts BulkExportOpts,
) {
	defer wg.Done()

	for job := range jobs {
		if ctx.Err() != nil {
			return
		}
		results <- e.exportPlayer(ctx, job, opts)
	}
}

func (e *Exporter) exportPlayer(ctx context.Context, j exportJob, opts BulkExportOpts) PlayerExportResult {
	result := PlayerExportResult{PlayerUUID: j.playerUUID, Files: []string{}}

	record, err := e.source.Record(ctx, j.playerUUID)
	if err != nil {
		result.Error = fmt.Errorf("failed to load record: %w", err)
		return result
	}
	result.Username = record.Player.Username

	// UUIDs keep file names unique where usernames may not be.
	base := filepath.Join(opts.OutputDir, j.playerUUID)
	files, err := formatter.Write(record, opts.Format, base, e.now())
	if err != nil {
		result.Error = fmt.Errorf("%s export failed: %w", opts.Format, err)
		return result
	}
	result.Files = files
	result.Success = true
	return result
}

func manifestEntries(result *BulkExportResult) []formatter.ManifestEntry {
	entries := make([]formatter.ManifestEntry, len(result.Results))
	for i, r := range result.Results {
		entries[i] = formatter.ManifestEntry{
			PlayerUUID: r.PlayerUUID,
			Username:   r.Username,
			Success:    r.Success,
			Files:      r.Files,
		}
		if r.Error != nil {
			entries[i].Error = r.Error.Error()
		}
	}
	return entries
}
