package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/grid"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

const slotWidth = 12

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
	outputFormatYAML = "yaml"
)

var (
	okColor      = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	pendingColor = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#F0C674"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF6B6B"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}

	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	statusStyles = map[binders.SyncStatus]lipgloss.Style{
		binders.SyncStatusSynced:   lipgloss.NewStyle().Foreground(okColor),
		binders.SyncStatusLocal:    lipgloss.NewStyle().Foreground(pendingColor),
		binders.SyncStatusPending:  lipgloss.NewStyle().Foreground(pendingColor),
		binders.SyncStatusConflict: lipgloss.NewStyle().Foreground(errorColor).Bold(true),
		binders.SyncStatusError:    lipgloss.NewStyle().Foreground(errorColor),
	}
	slotStyle      = lipgloss.NewStyle().Width(slotWidth).Border(lipgloss.RoundedBorder()).Padding(0, 1)
	emptySlotStyle = slotStyle.BorderForeground(mutedColor).Foreground(mutedColor)
)

func renderStatus(status binders.SyncStatus) string {
	style, ok := statusStyles[status]
	if !ok {
		return string(status)
	}
	return style.Render(string(status))
}

func writeBinderList(out io.Writer, docs []*binders.Document, currentID string) {
	if len(docs) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("no binders"))
		return
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("  %-36s  %-24s %5s %5s %4s  %s", "ID", "NAME", "CARDS", "PAGES", "VER", "STATUS")))
	for _, doc := range docs {
		marker := " "
		if doc.ID == currentID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-36s  %-24s %5d %5d %4d  %s\n",
			marker,
			doc.ID,
			truncate(doc.Metadata.Name, 24),
			len(doc.Cards),
			doc.Settings.PageCount,
			doc.Version,
			renderStatus(doc.Sync.Status))
	}
}

// writeBinderDetail prints the binder header followed by every card-page
// that holds at least one card, laid out as its grid.
func writeBinderDetail(out io.Writer, doc *binders.Document) {
	fmt.Fprintln(out, headerStyle.Render(doc.Metadata.Name))
	if doc.Metadata.Description != "" {
		fmt.Fprintln(out, doc.Metadata.Description)
	}
	fmt.Fprintf(out, "id %s  owner %s  version %d  %s\n", doc.ID, doc.OwnerID, doc.Version, renderStatus(doc.Sync.Status))
	fmt.Fprintf(out, "grid %s  pages %d (min %d, max %d)  cards %d\n",
		doc.Settings.GridSize, doc.Settings.PageCount, doc.Settings.MinPages, doc.Settings.MaxPages, len(doc.Cards))
	if doc.Sync.LastError != "" {
		fmt.Fprintf(out, "last sync error: %s (retries %d)\n", doc.Sync.LastError, doc.Sync.RetryCount)
	}

	perPage := doc.CardsPerPage()
	if perPage == 0 || len(doc.Cards) == 0 {
		return
	}
	pages := make(map[int]struct{})
	for _, position := range doc.Positions() {
		pages[grid.CardPageOf(position, perPage)] = struct{}{}
	}
	for cardPage := 0; cardPage <= grid.CardPageOf(doc.MaxOccupiedPosition(), perPage); cardPage++ {
		if _, occupied := pages[cardPage]; !occupied {
			continue
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("card-page %d (binder page %d)", cardPage, grid.CardPageToBinderPage(cardPage))))
		fmt.Fprintln(out, renderCardPage(doc, cardPage))
	}
}

func renderCardPage(doc *binders.Document, cardPage int) string {
	size := doc.Settings.GridSize
	start, _ := grid.CardPageRange(cardPage, doc.CardsPerPage())
	rows := make([]string, 0, size.Rows())
	for row := 0; row < size.Rows(); row++ {
		cells := make([]string, 0, size.Cols())
		for col := 0; col < size.Cols(); col++ {
			position := start + row*size.Cols() + col
			entry, occupied := doc.Cards[position]
			if !occupied {
				cells = append(cells, emptySlotStyle.Render(fmt.Sprintf("%d\n-", position)))
				continue
			}
			label := entry.CardData.Name
			if label == "" {
				label = entry.CardID
			}
			cells = append(cells, slotStyle.Render(fmt.Sprintf("%d\n%s", position, truncate(label, slotWidth-2))))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func writeBinder(out io.Writer, doc *binders.Document, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", outputFormatText:
		writeBinderDetail(out, doc)
		return nil
	case outputFormatJSON:
		return writeBinderJSON(out, doc)
	case outputFormatYAML:
		return writeBinderYAML(out, doc)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func writeBinderJSON(out io.Writer, doc *binders.Document) error {
	payload, err := binders.Encode(doc)
	if err != nil {
		return err
	}
	var indented map[string]any
	if err := json.Unmarshal(payload, &indented); err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(indented)
}

// writeBinderYAML converts the stored JSON document to YAML so field names
// match the stored shape.
func writeBinderYAML(out io.Writer, doc *binders.Document) error {
	payload, err := binders.Encode(doc)
	if err != nil {
		return err
	}
	var generic map[string]any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(generic); err != nil {
		return err
	}
	return encoder.Close()
}

func truncate(value string, width int) string {
	runes := []rune(strings.TrimSpace(value))
	if len(runes) <= width {
		return string(runes)
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
