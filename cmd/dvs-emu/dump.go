package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"dvs-emu-go/internal/ingest"
	"dvs-emu-go/internal/output"
)

type dumpOptions struct {
	Path  string
	Limit int
}

var dumpOpts dumpOptions

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the frame headers of a raw log as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDump(dumpOpts, cmd.OutOrStdout())
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpOpts.Path, "path", "p", "", "Path to a raw log .bin file")
	dumpCmd.Flags().IntVarP(&dumpOpts.Limit, "limit", "n", 0, "Number of records to dump, 0 for all")
	dumpCmd.MarkFlagRequired("path")
	rootCmd.AddCommand(dumpCmd)
}

type dumpRecord struct {
	Record     int     `json:"record"`
	Received   string  `json:"received"`
	Size       int     `json:"size"`
	FrameIndex uint64  `json:"frame_index,omitempty"`
	Height     int     `json:"height,omitempty"`
	Width      int     `json:"width,omitempty"`
	Mean       float64 `json:"mean,omitempty"`
	StdDev     float64 `json:"stddev,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func runDump(opts dumpOptions, out io.Writer) error {
	reader, err := output.OpenRawLog(opts.Path)
	if err != nil {
		return err
	}
	defer reader.Close()

	enc := json.NewEncoder(out)
	for count := 0; opts.Limit <= 0 || count < opts.Limit; count++ {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", count, err)
		}
		if err := enc.Encode(describeRecord(count, rec)); err != nil {
			return err
		}
	}
	return nil
}

func describeRecord(n int, rec output.RawRecord) dumpRecord {
	d := dumpRecord{
		Record:   n,
		Received: rec.Received.Format(time.RFC3339Nano),
		Size:     len(rec.Payload),
	}
	frame, err := ingest.DecodeFrame(rec.Payload)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.FrameIndex = frame.Index
	d.Height = frame.Height
	d.Width = frame.Width
	if len(frame.Data) > 1 {
		values := make([]float64, len(frame.Data))
		for i, v := range frame.Data {
			values[i] = float64(v)
		}
		d.Mean, d.StdDev = stat.MeanStdDev(values, nil)
	}
	return d
}
