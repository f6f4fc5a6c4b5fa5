package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/progress"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))           // grey
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

const barWidth = 30

func statusStyle(s data.DownloadStatus) lipgloss.Style {
	switch s {
	case data.StatusCompleted:
		return successStyle
	case data.StatusFailed, data.StatusCancelled:
		return errorStyle
	case data.StatusPaused:
		return warningStyle
	default:
		return pendingStyle
	}
}

// bar draws a fixed-width bar, or a marker when the total is unknown.
func bar(p data.Progress) string {
	if !p.TotalKnown() || p.Total == 0 {
		if p.Status == data.StatusCompleted {
			return "[" + strings.Repeat("=", barWidth) + "]"
		}
		return "[" + strings.Repeat("?", barWidth) + "]"
	}
	filled := int(p.Downloaded * barWidth / p.Total)
	filled = min(max(filled, 0), barWidth)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled) + "]"
}

func percent(p data.Progress) string {
	if !p.TotalKnown() {
		return "  ?  "
	}
	if p.Total == 0 {
		return "100.0%"
	}
	return fmt.Sprintf("%5.1f%%", float64(p.Downloaded)*100/float64(p.Total))
}

// progressLine renders one line of progress for name.
func progressLine(name string, p data.Progress) string {
	size := progress.FormatBytes(p.Downloaded) + "/" + progress.FormatBytes(p.Total)
	parts := []string{
		name,
		bar(p),
		percent(p),
		size,
		progress.FormatBytes(p.Speed) + "/s",
		"ETA " + progress.FormatETA(p.ETA),
		statusStyle(p.Status).Render(string(p.Status)),
	}
	line := strings.Join(parts, " ")
	if p.Error != "" {
		line += " " + errorStyle.Render(p.Error)
	}
	return line
}

func printTable(w io.Writer, list []data.TaskProgress) {
	if len(list) == 0 {
		fmt.Fprintln(w, detailStyle.Render("no downloads"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-36s  %-11s  %7s  %21s  %10s", "ID", "STATUS", "DONE", "SIZE", "SPEED")))
	for _, tp := range list {
		p := tp.Progress
		status := statusStyle(p.Status).Render(fmt.Sprintf("%-11s", p.Status))
		size := progress.FormatBytes(p.Downloaded) + "/" + progress.FormatBytes(p.Total)
		fmt.Fprintf(w, "%-36s  %s  %7s  %21s  %10s\n", tp.ID, status, percent(p), size, progress.FormatBytes(p.Speed)+"/s")
	}
}

func printDetails(w io.Writer, d *data.Details) {
	rows := [][2]string{
		{"id", d.ID},
		{"url", d.Source},
		{"path", d.Path()},
		{"segments", fmt.Sprint(d.Segments)},
		{"ranges", fmt.Sprint(d.AcceptRanges)},
		{"created", d.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s %s\n", detailStyle.Render(fmt.Sprintf("%-9s", r[0])), r[1])
	}
	fmt.Fprintln(w, progressLine(d.Name, d.Progress))
}
