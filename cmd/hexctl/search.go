package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
	"github.com/joshuapare/hexkit/loader"
	"github.com/joshuapare/hexkit/operation"
	"github.com/joshuapare/hexkit/search"
)

var (
	searchText       bool
	searchMaxResults int
	searchOffset     string
	searchLength     string
	searchMemory     bool
)

func init() {
	cmd := newSearchCmd()
	cmd.Flags().BoolVar(&searchText, "text", false, "Treat the pattern as text instead of hex")
	cmd.Flags().IntVar(&searchMaxResults, "max-results", 0, "Limit results (0 = unlimited)")
	cmd.Flags().StringVar(&searchOffset, "offset", "0", "Offset to start searching at")
	cmd.Flags().StringVar(&searchLength, "length", "0", "Number of bytes to search (0 = to end)")
	cmd.Flags().BoolVar(&searchMemory, "memory", false, "Load the file into memory before searching")
	rootCmd.AddCommand(cmd)
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <file> <pattern>",
		Short: "Find every occurrence of a byte pattern",
		Long: `The search command scans a file for a byte pattern given as hex
(spaces allowed) or, with --text, as a literal string. The scan runs as a
background operation; Ctrl-C cancels it and prints the matches found so far.

Example:
  hexctl search firmware.bin "de ad be ef"
  hexctl search firmware.bin "HDR0" --text --max-results 1
  hexctl search disk.img 55aa --offset 0x1fe --length 512 --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runSearch(ctx, args)
		},
	}
	return cmd
}

// SearchResult is the search command's report.
type SearchResult struct {
	File    string         `json:"file"`
	Pattern string         `json:"pattern"`
	Status  string         `json:"status"`
	Matches []search.Match `json:"matches"`
}

func runSearch(ctx context.Context, args []string) error {
	path := args[0]
	pattern, err := parsePattern(args[1], searchText)
	if err != nil {
		return err
	}
	offset, err := parseOffset(searchOffset)
	if err != nil {
		return err
	}
	length, err := parseOffset(searchLength)
	if err != nil {
		return err
	}

	opts := search.Options{
		Pattern:    pattern,
		Start:      offset,
		Length:     length,
		MaxMatches: searchMaxResults,
		OnMatch: func(m search.Match) {
			printVerbose("match at %#x\n", m.Pos)
		},
	}

	var task operation.Task
	var finder *search.Task
	if searchMemory {
		load := loader.NewTask(newOpener(), loader.Options{
			Path:     path,
			Load:     device.LoadOptions{ReadOnly: true},
			Document: settings().DocumentOptions(),
		})
		defer func() {
			if doc := load.Document(); doc != nil {
				doc.Close()
			}
		}()
		finder = search.NewTask(loadedSource{load}, opts)
		task = &operation.Sequence{
			StopOnError: true,
			Steps: []operation.Step{
				{Title: "load", Task: load, Weight: 0.5},
				{Title: "search", Task: finder},
			},
		}
	} else {
		dev, err := newOpener().Open(path, device.LoadOptions{ReadOnly: true})
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		doc := document.New(dev, settings().DocumentOptions()...)
		defer doc.Close()
		finder = search.NewTask(doc, opts)
		task = finder
	}

	manager := operation.NewManager(settings().ManagerOptions())
	defer manager.Close()

	op, err := manager.Submit("search "+path, task)
	if err != nil {
		return err
	}
	select {
	case <-op.Done():
	case <-ctx.Done():
		printVerbose("Cancelling search\n")
		if !manager.CancelAll() {
			return fmt.Errorf("search did not stop within the grace period")
		}
	}

	result := SearchResult{
		File:    path,
		Pattern: hex.EncodeToString(pattern),
		Status:  op.Status().String(),
		Matches: finder.Matches(),
	}
	if result.Matches == nil {
		result.Matches = []search.Match{}
	}
	if op.Status() == operation.Failed {
		return op.Err()
	}

	if jsonOut {
		return printJSON(result)
	}
	for _, m := range result.Matches {
		printInfo("%#010x  %d bytes\n", m.Pos, m.Len)
	}
	if op.Status() == operation.Cancelled {
		printInfo("search cancelled: %d matches so far\n", len(result.Matches))
		return nil
	}
	printVerbose("%d matches\n", len(result.Matches))
	return nil
}

// parsePattern decodes a hex pattern, ignoring spaces, or takes text as is.
func parsePattern(s string, text bool) ([]byte, error) {
	if text {
		if s == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		return []byte(s), nil
	}
	clean := strings.Join(strings.Fields(s), "")
	clean = strings.TrimPrefix(strings.ToLower(clean), "0x")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex pattern %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	return b, nil
}

// loadedSource searches the document produced by a load step.
type loadedSource struct{ load *loader.Task }

func (s loadedSource) Len() int64 {
	if doc := s.load.Document(); doc != nil {
		return doc.Len()
	}
	return 0
}

func (s loadedSource) Read(pos, n int64) ([]byte, error) {
	doc := s.load.Document()
	if doc == nil {
		return nil, fmt.Errorf("nothing loaded")
	}
	return doc.Read(pos, n)
}
