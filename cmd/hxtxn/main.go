package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pthm/hxtxn"
	"github.com/pthm/hxtxn/lib/encoding"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "validate":
		err = runValidate(args, os.Stdout)
	case "render":
		err = runRender(args, os.Stdout)
	case "serve":
		err = runServe(args)
	case "version":
		fmt.Printf("hxtxn version %s\n", version)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `hxtxn - transaction renderer for HTMX dashboards

Usage:
  hxtxn <command> [arguments]

Commands:
  validate <file>   Decode an instruction envelope and list element issues
  render <file>     Render an instruction envelope to HTML on stdout
  serve             Connect to the host and serve the transaction UI
  version           Print version
  help              Show this help

Options for render:
  --theme name      system, light or dark
  --compact         Compact layout

Options for serve:
  --config file     CUE settings file (repeatable)
  --listen addr     Override the listen address
  --token value     Transaction token sent to the host
  --log-level name  debug, info, warn or error
  --back url        Link offered once the transaction ends

Examples:
  hxtxn validate batch.json
  hxtxn render --theme dark batch.json > batch.html
  hxtxn serve --config hxtxn.cue --token "$TXN_TOKEN"`)
}

// errIssues reports that validate found problems it already printed.
var errIssues = errors.New("envelope has invalid elements")

func readEnvelope(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("validate takes one envelope file")
	}
	raw, err := readEnvelope(fs.Arg(0))
	if err != nil {
		return err
	}

	batch, err := hxtxn.DecodeBatch(raw, hxtxn.DecodeOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "groupKey %s: %d elements\n", batch.GroupKey, len(batch.Elements))

	bad := 0
	for i := range batch.Elements {
		inst := &batch.Elements[i]
		if inst.ValidationError == nil {
			fmt.Fprintf(out, "  %-6s %-15s ok\n", inst.ID(), inst.Tag)
			continue
		}
		bad++
		fmt.Fprintf(out, "  %-6s %-15s invalid\n", inst.ID(), inst.Tag)
		for _, is := range inst.ValidationError.Issues {
			path := is.Path
			if path == "" {
				path = "(root)"
			}
			fmt.Fprintf(out, "      %s: %s\n", path, is.Message)
		}
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d of %d", errIssues, bad, len(batch.Elements))
	}
	return nil
}

func runRender(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	theme := fs.String("theme", "system", "color theme")
	compact := fs.Bool("compact", false, "compact layout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("render takes one envelope file")
	}
	raw, err := readEnvelope(fs.Arg(0))
	if err != nil {
		return err
	}

	batch, err := hxtxn.DecodeBatch(raw, hxtxn.DecodeOptions{TypeTags: encoding.DefaultTypeTags()})
	if err != nil {
		return err
	}
	prefs := hxtxn.Preferences{Theme: *theme, Compact: *compact}
	return hxtxn.RenderBatch(batch, hxtxn.DefaultRegistry(), prefs).Render(context.Background(), out)
}
