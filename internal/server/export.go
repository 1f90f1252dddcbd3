package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldmemo/memo-service/internal/storage"
)

// Export formats accepted by /records/{id}/export.
const (
	ExportMarkdown = "markdown"
	ExportJSON     = "json"
	ExportText     = "text"
)

// ExportRecord renders a record for download and returns its content type
func ExportRecord(record *storage.Record, format string) (string, []byte, error) {
	switch format {
	case "", ExportMarkdown:
		return "text/markdown; charset=utf-8", []byte(exportMarkdown(record)), nil
	case ExportJSON:
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return "", nil, fmt.Errorf("encoding record: %w", err)
		}
		return "application/json", data, nil
	case ExportText:
		return "text/plain; charset=utf-8", []byte(exportText(record)), nil
	default:
		return "", nil, fmt.Errorf("unsupported export format %q (supported: markdown, json, text)", format)
	}
}

func exportMarkdown(record *storage.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", record.Title)
	if record.Customer != "" {
		fmt.Fprintf(&b, "- **Customer:** %s\n", record.Customer)
	}
	fmt.Fprintf(&b, "- **Date:** %s\n", record.CreatedAt.Format("2006-01-02 15:04"))

	if m := record.Minutes; m != nil {
		if len(m.Attendees) > 0 {
			fmt.Fprintf(&b, "- **Attendees:** %s\n", strings.Join(m.Attendees, ", "))
		}
		if m.Summary != "" {
			fmt.Fprintf(&b, "\n## Summary\n\n%s\n", m.Summary)
		}
		if len(m.KeyPoints) > 0 {
			b.WriteString("\n## Key points\n\n")
			for _, point := range m.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", point)
			}
		}
		if len(m.ActionItems) > 0 {
			b.WriteString("\n## Action items\n\n")
			for _, item := range m.ActionItems {
				fmt.Fprintf(&b, "- [ ] %s%s\n", item.Description, actionSuffix(item.Owner, item.Due))
			}
		}
		if m.NextSteps != "" {
			fmt.Fprintf(&b, "\n## Next steps\n\n%s\n", m.NextSteps)
		}
	} else if record.Summary != "" {
		fmt.Fprintf(&b, "\n## Summary\n\n%s\n", record.Summary)
	}

	if record.Transcript != "" {
		fmt.Fprintf(&b, "\n## Transcript\n\n%s\n", record.Transcript)
	}

	return b.String()
}

func exportText(record *storage.Record) string {
	var b strings.Builder

	b.WriteString(record.Title + "\n")
	if record.Customer != "" {
		fmt.Fprintf(&b, "Customer: %s\n", record.Customer)
	}
	fmt.Fprintf(&b, "Date: %s\n", record.CreatedAt.Format("2006-01-02 15:04"))

	if record.Summary != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", record.Summary)
	}

	if m := record.Minutes; m != nil && len(m.ActionItems) > 0 {
		b.WriteString("\nAction items:\n")
		for _, item := range m.ActionItems {
			fmt.Fprintf(&b, "* %s%s\n", item.Description, actionSuffix(item.Owner, item.Due))
		}
	}

	if record.Transcript != "" {
		fmt.Fprintf(&b, "\nTranscript:\n%s\n", record.Transcript)
	}

	return b.String()
}

func actionSuffix(owner, due string) string {
	switch {
	case owner != "" && due != "":
		return fmt.Sprintf(" (%s, due %s)", owner, due)
	case owner != "":
		return fmt.Sprintf(" (%s)", owner)
	case due != "":
		return fmt.Sprintf(" (due %s)", due)
	}
	return ""
}
