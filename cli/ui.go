package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/server"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#3ECF8E")
	secondaryColor = lipgloss.Color("#1F2937")
	errorColor     = lipgloss.Color("#EF4444")
	warningColor   = lipgloss.Color("#F59E0B")
	successColor   = lipgloss.Color("#10B981")
	infoColor      = lipgloss.Color("#3B82F6")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF")).
			MarginBottom(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(infoColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(20)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F3F4F6"))

	urlStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Underline(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#374151")).
			Padding(1, 2)
)

// Banner returns the objectgate ASCII banner
func Banner() string {
	banner := `
  ___  _     _           _             _
 / _ \| |__ (_) ___  ___| |_ __ _ __ _| |_ ___
| | | | '_ \| |/ _ \/ __| __/ _  |/ _  | __/ _ \
| |_| | |_) | |  __/ (__| || (_| | (_| | ||  __/
 \___/|_.__// |\___|\___|\__\__, |\__,_|\__\___|
          |__/              |___/
`
	return titleStyle.Render(banner)
}

// printServeBanner renders the startup summary box.
func printServeBanner(cfg *server.Config) {
	fmt.Println(Banner())
	rows := [][2]string{
		{"REST API", fmt.Sprintf("http://%s:%d/storage/v1", cfg.Host, cfg.Port)},
		{"S3 API", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.S3Port)},
		{"TUS", fmt.Sprintf("http://%s:%d/storage/v1/upload/resumable", cfg.Host, cfg.Port)},
		{"Region", cfg.Region},
		{"Blob backend", cfg.BlobDSN},
	}
	if len(cfg.IcebergShardURLs) > 0 {
		rows = append(rows, [2]string{"Iceberg", fmt.Sprintf("http://%s:%d/iceberg/v1", cfg.Host, cfg.Port)})
	}
	body := ""
	for _, r := range rows {
		body += labelStyle.Render(r[0]) + " " + valueStyle.Render(r[1]) + "\n"
	}
	fmt.Println(boxStyle.Render(body))
}
