package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/pkg/types"
)

var (
	infoRangeStart  string
	infoRangeLength string
)

func init() {
	cmd := newInfoCmd()
	cmd.Flags().StringVar(&infoRangeStart, "range-start", "0", "Start of the range to open")
	cmd.Flags().StringVar(&infoRangeLength, "range-length", "0", "Length of the range to open (0 = whole file)")
	rootCmd.AddCommand(cmd)
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Report size and access mode of a file",
		Long: `The info command opens a file the way the editor would and reports its
size, whether it could only be opened read-only, and whether it fits the
memory load limit. Nothing is written.

Example:
  hexctl info firmware.bin
  hexctl info disk.img --range-start 0x200 --range-length 512 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

// FileInfo is the info command's report.
type FileInfo struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	ReadOnly       bool   `json:"read_only"`
	FixedSize      bool   `json:"fixed_size"`
	RangeStart     int64  `json:"range_start"`
	RangeLength    int64  `json:"range_length"`
	MemoryLoadable bool   `json:"memory_loadable"`
	MemoryLimit    int64  `json:"memory_limit"`
}

func runInfo(args []string) error {
	path := args[0]
	opts, err := rangeOptions(infoRangeStart, infoRangeLength)
	if err != nil {
		return err
	}

	printVerbose("Opening: %s\n", path)
	opener := newOpener()
	dev, err := opener.Open(path, opts)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer dev.Close()

	info := FileInfo{
		Path:        path,
		Size:        dev.Size(),
		ReadOnly:    dev.ReadOnly(),
		FixedSize:   dev.FixedSize(),
		RangeStart:  opts.RangeStart,
		RangeLength: dev.Size(),
		MemoryLimit: opener.Limits().MemoryLoadLimit,
	}
	err = opener.CheckMemoryLoad(path, dev.Size(), device.LoadOptions{})
	var limitErr *types.LoadLimitError
	switch {
	case err == nil:
		info.MemoryLoadable = true
	case !errors.As(err, &limitErr):
		return err
	}

	if jsonOut {
		return printJSON(info)
	}

	printInfo("\nFile Information:\n")
	printInfo("  File: %s\n", info.Path)
	printInfo("  Size: %s (%d bytes)\n", types.FormatSize(info.Size), info.Size)
	if opts.RangeLength > 0 {
		printInfo("  Range: %#x-%#x\n", info.RangeStart, info.RangeStart+info.RangeLength)
	}
	if info.ReadOnly {
		printInfo("  Access: read-only\n")
	} else {
		printInfo("  Access: read-write\n")
	}
	printInfo("  Fixed size: %t\n", info.FixedSize)
	if info.MemoryLoadable {
		printInfo("  Memory load: ok (limit %s)\n", types.FormatSize(info.MemoryLimit))
	} else {
		printInfo("  Memory load: too large (limit %s)\n", types.FormatSize(info.MemoryLimit))
	}
	return nil
}

// rangeOptions parses --range-start/--range-length style flags.
func rangeOptions(start, length string) (device.LoadOptions, error) {
	var opts device.LoadOptions
	var err error
	if opts.RangeStart, err = parseOffset(start); err != nil {
		return opts, err
	}
	if opts.RangeLength, err = parseOffset(length); err != nil {
		return opts, err
	}
	if opts.RangeLength == 0 && opts.RangeStart != 0 {
		return opts, fmt.Errorf("--range-start needs --range-length")
	}
	return opts, nil
}
