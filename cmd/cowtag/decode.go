package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/cowtag/internal/telemetry"
)

var decodeFormat string

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a captured telemetry frame",
	Long: `Decodes a 186-byte telemetry frame given as hex. Spaces, colons, dashes and
0x prefixes are ignored, so the argument may be split across several words.`,
	Example: `  cowtag decode --format json 0100fe...0c0005b41501`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDecode,
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "text", "Output format (text, json)")
}

// parseHex accepts hex with common separators.
func parseHex(s string) ([]byte, error) {
	cleaned := strings.ReplaceAll(s, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "0x", "")

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := parseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	frame, err := telemetry.DecodeFrame(data)
	if err != nil {
		return err
	}

	switch decodeFormat {
	case "json":
		return writeFrameJSON(cmd.OutOrStdout(), &frame)
	case "text":
		writeFrameText(cmd.OutOrStdout(), &frame)
		return nil
	default:
		return fmt.Errorf("invalid --format %q (must be text or json)", decodeFormat)
	}
}

// frameDocument keeps trailer fields ahead of the samples in JSON output.
func frameDocument(f *telemetry.Frame) *orderedmap.OrderedMap[string, any] {
	t := f.Trailer()
	doc := orderedmap.New[string, any]()
	doc.Set("collar_id", t.CollarID)
	doc.Set("time", fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second))
	doc.Set("battery", t.Battery)
	doc.Set("temperature", t.Temperature)

	samples := make([][3]int16, 0, telemetry.SamplesPerFrame)
	for _, v := range f.Samples() {
		samples = append(samples, [3]int16(v))
	}
	doc.Set("samples", samples)
	return doc
}

func writeFrameJSON(w io.Writer, f *telemetry.Frame) error {
	out, err := json.MarshalIndent(frameDocument(f), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func writeFrameText(w io.Writer, f *telemetry.Frame) {
	label := color.New(color.FgCyan, color.Bold).SprintFunc()
	value := color.New(color.FgYellow).SprintFunc()

	t := f.Trailer()
	fmt.Fprintf(w, "%s %s\n", label("Collar:"), value(t.CollarID))
	fmt.Fprintf(w, "%s %s\n", label("Time:"), value(fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)))
	fmt.Fprintf(w, "%s %s\n", label("Battery:"), value(t.Battery))
	fmt.Fprintf(w, "%s %s\n", label("Temperature:"), value(t.Temperature))
	fmt.Fprintf(w, "%s\n", label("Samples:"))
	for i, v := range f.Samples() {
		fmt.Fprintf(w, "  %2d  x=%6d y=%6d z=%6d\n", i, v[0], v[1], v[2])
	}
}
