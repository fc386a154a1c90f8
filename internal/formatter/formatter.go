// package formatter exports a player's record to CSV, Markdown or plain text for staff review
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/desertthunder/modstore/internal/models"
	"github.com/desertthunder/modstore/internal/ui"
)

const timeLayout = "2006-01-02 15:04"

// Format is an export file format.
type Format string

const (
	CSV      Format = "csv"
	Markdown Format = "md"
	Text     Format = "txt"
)

// ParseFormat accepts the format names the CLI offers.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "md", "markdown":
		return Markdown, nil
	case "txt", "text", "":
		return Text, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// RecordToCSV converts a player's punishments to CSV with columns: ID, Type, Status, Issuer, Reason, Created, Expires
func RecordToCSV(record *models.PlayerRecord, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Type", "Status", "Issuer", "Reason", "Created", "Expires"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, p := range record.Punishments {
		row := []string{
			p.ID,
			string(p.Type),
			ui.Status(p, now),
			p.IssuerUUID,
			p.Reason,
			p.CreatedAt.UTC().Format(time.RFC3339),
			"",
		}
		if p.ExpiresAt != nil {
			row[6] = p.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// RecordToMarkdown renders the player, their punishments and staff notes as a Markdown document.
func RecordToMarkdown(record *models.PlayerRecord, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	player := record.Player

	fmt.Fprintf(&buf, "# %s\n\n", player.Username)
	fmt.Fprintf(&buf, "**UUID**: `%s`\n", player.UUID)
	fmt.Fprintf(&buf, "**First seen**: %s\n", player.FirstSeen.Local().Format(timeLayout))
	fmt.Fprintf(&buf, "**Last seen**: %s\n", player.LastSeen.Local().Format(timeLayout))
	if player.Locale != "" {
		fmt.Fprintf(&buf, "**Locale**: %s\n", player.Locale)
	}

	fmt.Fprintf(&buf, "\n## Punishments (%d)\n\n", len(record.Punishments))
	if len(record.Punishments) > 0 {
		buf.WriteString("| Issued | Type | Status | Reason |\n")
		buf.WriteString("| --- | --- | --- | --- |\n")
		for _, p := range record.Punishments {
			fmt.Fprintf(&buf, "| %s | %s | %s | %s |\n",
				p.CreatedAt.Local().Format(timeLayout), p.Type, ui.Status(p, now), escapeCell(p.Reason))
		}
	}

	fmt.Fprintf(&buf, "\n## Staff notes (%d)\n\n", len(record.Notes))
	for _, n := range record.Notes {
		fmt.Fprintf(&buf, "- %s: %s\n", n.CreatedAt.Local().Format(timeLayout), n.Message)
	}

	return buf.Bytes(), nil
}

// RecordToText converts a player's record to plain text
func RecordToText(record *models.PlayerRecord, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Player: %s (%s)\n", record.Player.Username, record.Player.UUID)
	fmt.Fprintf(&buf, "Punishments: %d\n", len(record.Punishments))
	for i, p := range record.Punishments {
		fmt.Fprintf(&buf, "%d. %s %s - %s\n", i+1, p.Type, ui.Status(p, now), p.Reason)
	}

	fmt.Fprintf(&buf, "Notes: %d\n", len(record.Notes))
	for i, n := range record.Notes {
		fmt.Fprintf(&buf, "%d. %s\n", i+1, n.Message)
	}

	return buf.Bytes(), nil
}

// ToPlayerJSON generates a JSON representation of the player (without punishments)
func ToPlayerJSON(player *models.Player) ([]byte, error) {
	return json.MarshalIndent(map[string]any{
		"uuid":       player.UUID,
		"username":   player.Username,
		"first_seen": player.FirstSeen.UTC().Format(time.RFC3339),
		"last_seen":  player.LastSeen.UTC().Format(time.RFC3339),
		"locale":     player.Locale,
	}, "", "  ")
}

// Write exports record in format under base and returns the files it created.
//
// Base defaults to the player's username. CSV creates {base}_punishments.csv and {base}_player.json,
// Markdown creates {base}/README.md and text creates {base}.txt.
func Write(record *models.PlayerRecord, format Format, base string, now time.Time) ([]string, error) {
	if base == "" {
		base = record.Player.Username
	}

	switch format {
	case CSV:
		return writeCSVExport(record, base, now)
	case Markdown:
		return writeMarkdownExport(record, base, now)
	case Text:
		return writeTextExport(record, base, now)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func writeCSVExport(record *models.PlayerRecord, base string, now time.Time) ([]string, error) {
	csvData, err := RecordToCSV(record, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	punishmentsFile := base + "_punishments.csv"
	if err := os.WriteFile(punishmentsFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	playerJSON, err := ToPlayerJSON(record.Player)
	if err != nil {
		return nil, fmt.Errorf("failed to generate player JSON: %w", err)
	}

	playerFile := base + "_player.json"
	if err := os.WriteFile(playerFile, playerJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write player file: %w", err)
	}

	return []string{punishmentsFile, playerFile}, nil
}

func writeMarkdownExport(record *models.PlayerRecord, dir string, now time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	mdData, err := RecordToMarkdown(record, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(dir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}

	return []string{mdFile}, nil
}

func writeTextExport(record *models.PlayerRecord, base string, now time.Time) ([]string, error) {
	textData, err := RecordToText(record, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate text: %w", err)
	}

	textFile := base + ".txt"
	if err := os.WriteFile(textFile, textData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write text file: %w", err)
	}

	return []string{textFile}, nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// ManifestEntry records the outcome of one player in a bulk export.
type ManifestEntry struct {
	PlayerUUID string   `json:"player_uuid"`
	Username   string   `json:"username,omitempty"`
	Success    bool     `json:"success"`
	Files      []string `json:"files,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Manifest summarizes a bulk export.
type Manifest struct {
	ExportedAt string          `json:"exported_at"`
	Format     Format          `json:"format"`
	Total      int             `json:"total"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Players    []ManifestEntry `json:"players"`
}

// WriteManifest writes a JSON manifest of a bulk export to path.
func WriteManifest(entries []ManifestEntry, format Format, path string, now time.Time) error {
	manifest := Manifest{
		ExportedAt: now.UTC().Format(time.RFC3339),
		Format:     format,
		Total:      len(entries),
		Players:    entries,
	}
	for _, e := range entries {
		if e.Success {
			manifest.Succeeded++
		} else {
			manifest.Failed++
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
