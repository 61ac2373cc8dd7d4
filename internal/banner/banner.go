package banner

import (
	"ratecheck/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

const ascii = `
                __             __                __
   _________ _/ /____  _____/ /_  ___  _____/ /__
  / ___/ __ '/ __/ _ \/ ___/ __ \/ _ \/ ___/ //_/
 / /  / /_/ / /_/  __/ /__/ / / /  __/ /__/ ,<
/_/   \__,_/\__/\___/\___/_/ /_/\___/\___/_/|_|  `

func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	tagline := styles.Subtle.Render("  staged load probe for rate-limited HTTP endpoints")
	return "\n" + style.Render(ascii) + "\n" + tagline + "\n"
}
