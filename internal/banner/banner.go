// Package banner renders the daemon's startup banner.
package banner

import (
	"fmt"
	"io"
	"strings"
)

const logo = `
======================================================================
           _ _ _          _     _
  ___ __ _| | | |__  _ __(_) __| | __ _  ___
 / __/ _` + "`" + ` | | | '_ \| '__| |/ _` + "`" + ` |/ _` + "`" + ` |/ _ \
| (_| (_| | | | |_) | |  | | (_| | (_| |  __/
 \___\__,_|_|_|_.__/|_|  |_|\__,_|\__, |\___|
                                  |___/
----------------------------------------------------------------------`

const footer = "======================================================================"

// Line is one labeled configuration value shown under the logo.
type Line struct {
	Label string
	Value string
}

// Fprint writes the banner for the named service, with its configuration
// lines label-aligned.
func Fprint(w io.Writer, service string, lines []Line) {
	var b strings.Builder
	b.WriteString(logo)
	b.WriteByte('\n')
	b.WriteString(service)
	b.WriteByte('\n')

	width := 0
	for _, l := range lines {
		if len(l.Label) > width {
			width = len(l.Label)
		}
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "  %-*s : %s\n", width, l.Label, l.Value)
	}

	b.WriteString("\nReady.\n")
	b.WriteString(footer)
	b.WriteString("\n\n")
	io.WriteString(w, b.String())
}
