package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ListPlayers Phase = iota
	ExportPlayer
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case ListPlayers:
		return "list_players"
	case ExportPlayer:
		return "export_player"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

func listPlayersUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ListPlayers,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d players", total),
	}
}

func exportCompletedUpdate(step, total int, res PlayerExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlayer,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Exported %s (%d files)", res.Username, len(res.Files)),
		Data:    res,
	}
}

func exportFailedUpdate(step, total int, res PlayerExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportPlayer,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Failed to export %s: %v", res.name(), res.Error),
		Data:    res,
	}
}

func manifestUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Wrote manifest %s", path),
	}
}
