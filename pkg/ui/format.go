package ui

import (
	"io"
	"os"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Format selects how results are rendered.
type Format int

const (
	// FormatAuto picks terminal or text depending on the output.
	FormatAuto Format = iota
	// FormatTerminal renders colored tables.
	FormatTerminal
	// FormatText renders the same tables without styling.
	FormatText
	// FormatJSON renders machine-readable JSON.
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatTerminal:
		return "term"
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat parses the --format flag.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return FormatAuto, nil
	case "term", "terminal":
		return FormatTerminal, nil
	case "text", "plain":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatAuto, errors.Newf(errors.ErrInvalidInput, "unknown format: %s", s)
	}
}

// Resolve turns FormatAuto into a concrete format for out. Anything that
// is not a color-capable terminal gets plain text, as does NO_COLOR.
func Resolve(f Format, out io.Writer) Format {
	if f != FormatAuto {
		return f
	}
	if os.Getenv("NO_COLOR") != "" {
		return FormatText
	}
	file, ok := out.(*os.File)
	if !ok {
		return FormatText
	}
	if !isatty.IsTerminal(file.Fd()) && !isatty.IsCygwinTerminal(file.Fd()) {
		return FormatText
	}
	if termenv.NewOutput(file).ColorProfile() == termenv.Ascii {
		return FormatText
	}
	return FormatTerminal
}
