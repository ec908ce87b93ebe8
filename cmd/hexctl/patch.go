package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/document"
)

var (
	patchWrites  []string
	patchInserts []string
	patchRemoves []string
	patchFills   []string
	patchOutput  string
	patchDryRun  bool
)

func init() {
	cmd := newPatchCmd()
	cmd.Flags().StringArrayVar(&patchWrites, "write", nil, "Overwrite bytes: OFFSET:HEX")
	cmd.Flags().StringArrayVar(&patchInserts, "insert", nil, "Insert bytes: OFFSET:HEX")
	cmd.Flags().StringArrayVar(&patchRemoves, "remove", nil, "Remove bytes: OFFSET:LENGTH")
	cmd.Flags().StringArrayVar(&patchFills, "fill", nil, "Overwrite with a repeated byte: OFFSET:LENGTH:BYTE")
	cmd.Flags().StringVarP(&patchOutput, "output", "o", "", "Write the result to a new file instead")
	cmd.Flags().BoolVar(&patchDryRun, "dry-run", false, "Apply the edits without saving")
	rootCmd.AddCommand(cmd)
}

func newPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <file>",
		Short: "Overwrite, insert or remove bytes",
		Long: `The patch command edits a file. Edits are applied in this order, each
against the result of the previous ones: writes, fills, inserts, removes.
Offsets and lengths accept decimal or 0x hex.

The file is saved in place when no byte has to move; otherwise the result is
written to a temporary file that replaces the original. With --output the
original is opened for editing but never written.

Example:
  hexctl patch firmware.bin --write 0x10:deadbeef
  hexctl patch firmware.bin --insert 0:7f454c46 --remove 0x100:16
  hexctl patch firmware.bin --fill 0x200:512:ff -o patched.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatch(cmd.Context(), args)
		},
	}
	return cmd
}

// PatchResult is the patch command's report.
type PatchResult struct {
	File    string `json:"file"`
	Output  string `json:"output"`
	Edits   int    `json:"edits"`
	OldSize int64  `json:"old_size"`
	NewSize int64  `json:"new_size"`
	Saved   bool   `json:"saved"`
}

type patchEdit struct {
	name  string
	apply func(*document.Document) error
}

func runPatch(ctx context.Context, args []string) error {
	path := args[0]
	edits, err := parseEdits()
	if err != nil {
		return err
	}
	if len(edits) == 0 {
		return fmt.Errorf("no edits given (use --write, --fill, --insert or --remove)")
	}

	opener := newOpener()
	dev, err := opener.Open(path, device.LoadOptions{})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if dev.ReadOnly() {
		dev.Close()
		return fmt.Errorf("%s can only be opened read-only", path)
	}
	doc := document.New(dev, settings().DocumentOptions()...)
	defer doc.Close()

	result := PatchResult{File: path, Output: path, Edits: len(edits), OldSize: doc.Len()}
	err = doc.Group("patch", func() error {
		for _, e := range edits {
			printVerbose("Applying %s\n", e.name)
			if err := e.apply(doc); err != nil {
				return fmt.Errorf("%s: %w", e.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	result.NewSize = doc.Len()

	switch {
	case patchDryRun:
	case patchOutput != "":
		target, err := opener.Open(patchOutput, device.LoadOptions{Create: true})
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", patchOutput, err)
		}
		if err := doc.SaveAs(ctx, target); err != nil {
			target.Close()
			return err
		}
		result.Output, result.Saved = patchOutput, true
	default:
		if err := doc.Save(ctx); err != nil {
			return err
		}
		result.Saved = true
	}

	if jsonOut {
		return printJSON(result)
	}
	verb := "patched"
	if !result.Saved {
		verb = "would patch"
	}
	printInfo("%s %s: %d edits, %d -> %d bytes\n", verb, result.Output, result.Edits, result.OldSize, result.NewSize)
	return nil
}

func parseEdits() ([]patchEdit, error) {
	var edits []patchEdit
	for _, s := range patchWrites {
		pos, data, err := offsetAndHex(s)
		if err != nil {
			return nil, fmt.Errorf("--write %s: %w", s, err)
		}
		edits = append(edits, patchEdit{"write " + s, func(d *document.Document) error { return d.Write(pos, data) }})
	}
	for _, s := range patchFills {
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("--fill %s: want OFFSET:LENGTH:BYTE", s)
		}
		pos, err := parseOffset(parts[0])
		if err != nil {
			return nil, fmt.Errorf("--fill %s: %w", s, err)
		}
		n, err := parseOffset(parts[1])
		if err != nil {
			return nil, fmt.Errorf("--fill %s: %w", s, err)
		}
		b, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(parts[2]), "0x"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("--fill %s: invalid byte %q", s, parts[2])
		}
		edits = append(edits, patchEdit{"fill " + s, func(d *document.Document) error { return d.WriteFill(pos, n, byte(b)) }})
	}
	for _, s := range patchInserts {
		pos, data, err := offsetAndHex(s)
		if err != nil {
			return nil, fmt.Errorf("--insert %s: %w", s, err)
		}
		edits = append(edits, patchEdit{"insert " + s, func(d *document.Document) error { return d.Insert(pos, data) }})
	}
	for _, s := range patchRemoves {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("--remove %s: want OFFSET:LENGTH", s)
		}
		pos, err := parseOffset(parts[0])
		if err != nil {
			return nil, fmt.Errorf("--remove %s: %w", s, err)
		}
		n, err := parseOffset(parts[1])
		if err != nil {
			return nil, fmt.Errorf("--remove %s: %w", s, err)
		}
		edits = append(edits, patchEdit{"remove " + s, func(d *document.Document) error { return d.Remove(pos, n) }})
	}
	return edits, nil
}

func offsetAndHex(s string) (int64, []byte, error) {
	off, data, ok := strings.Cut(s, ":")
	if !ok {
		return 0, nil, fmt.Errorf("want OFFSET:HEX")
	}
	pos, err := parseOffset(off)
	if err != nil {
		return 0, nil, err
	}
	b, err := hex.DecodeString(data)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid hex %q", data)
	}
	return pos, b, nil
}
