package main

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/charmap"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
)

var (
	dumpOffset   string
	dumpLength   string
	dumpWidth    int
	dumpEncoding string
)

// encodings maps --encoding names to single-byte code pages. A nil entry
// shows printable ASCII only.
var encodings = map[string]*charmap.Charmap{
	"ascii":        nil,
	"cp437":        charmap.CodePage437,
	"cp850":        charmap.CodePage850,
	"cp866":        charmap.CodePage866,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-5":   charmap.ISO8859_5,
	"koi8-r":       charmap.KOI8R,
	"mac":          charmap.Macintosh,
}

func init() {
	cmd := newDumpCmd()
	cmd.Flags().StringVar(&dumpOffset, "offset", "0", "Offset to start at")
	cmd.Flags().StringVar(&dumpLength, "length", "256", "Number of bytes to dump (0 = to end)")
	cmd.Flags().IntVar(&dumpWidth, "width", 16, "Bytes per line")
	cmd.Flags().StringVar(&dumpEncoding, "encoding", "ascii",
		"Text column encoding ("+strings.Join(encodingNames(), ", ")+")")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print a hex dump of a file",
		Long: `The dump command prints bytes as hex with a text column decoded in a
single-byte code page.

Example:
  hexctl dump firmware.bin
  hexctl dump firmware.bin --offset 0x1000 --length 64 --encoding cp437
  hexctl dump firmware.bin --length 32 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args)
		},
	}
	return cmd
}

// DumpLine is one line of a dump.
type DumpLine struct {
	Offset int64  `json:"offset"`
	Hex    string `json:"hex"`
	Text   string `json:"text"`
}

func runDump(args []string) error {
	path := args[0]
	offset, err := parseOffset(dumpOffset)
	if err != nil {
		return err
	}
	length, err := parseOffset(dumpLength)
	if err != nil {
		return err
	}
	if dumpWidth <= 0 {
		return fmt.Errorf("--width must be positive")
	}
	cm, ok := encodings[strings.ToLower(dumpEncoding)]
	if !ok {
		return fmt.Errorf("unknown encoding %q (known: %s)", dumpEncoding, strings.Join(encodingNames(), ", "))
	}

	printVerbose("Opening: %s\n", path)
	dev, err := newOpener().Open(path, device.LoadOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	doc := document.New(dev, settings().DocumentOptions()...)
	defer doc.Close()

	if offset > doc.Len() {
		return fmt.Errorf("offset %#x is beyond the end of %s (%#x)", offset, path, doc.Len())
	}
	if length == 0 || length > doc.Len()-offset {
		length = doc.Len() - offset
	}
	data, err := doc.Read(offset, length)
	if err != nil {
		return err
	}

	lines := dumpLines(data, offset, dumpWidth, cm)
	if jsonOut {
		return printJSON(lines)
	}
	pad := dumpWidth*3 - 1
	for _, l := range lines {
		printInfo("%08x  %-*s  |%s|\n", l.Offset, pad, l.Hex, l.Text)
	}
	return nil
}

func dumpLines(data []byte, base int64, width int, cm *charmap.Charmap) []DumpLine {
	lines := make([]DumpLine, 0, (len(data)+width-1)/width)
	for i := 0; i < len(data); i += width {
		row := data[i:min(i+width, len(data))]
		var hex, text strings.Builder
		for j, b := range row {
			if j > 0 {
				hex.WriteByte(' ')
			}
			fmt.Fprintf(&hex, "%02x", b)
			text.WriteRune(displayRune(b, cm))
		}
		lines = append(lines, DumpLine{Offset: base + int64(i), Hex: hex.String(), Text: text.String()})
	}
	return lines
}

func displayRune(b byte, cm *charmap.Charmap) rune {
	r := rune(b)
	if cm != nil {
		r = cm.DecodeByte(b)
	} else if b >= 0x80 {
		return '.'
	}
	if !unicode.IsPrint(r) {
		return '.'
	}
	return r
}

func encodingNames() []string {
	names := make([]string, 0, len(encodings))
	for name := range encodings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
