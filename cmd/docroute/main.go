// Command docroute triages PDFs, parses them to markdown, and runs the
// routing service.
//
//	docroute triage -c cfg.yaml -i file.pdf [-o result.json] [--set k=v]...
//	docroute parse  -c cfg.yaml -i file.pdf [-p kind] [--options JSON] [-o out.md]
//	docroute serve  -c cfg.yaml
//	docroute policies
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/docroute/config"
	"github.com/hazyhaar/docroute/document"
	"github.com/hazyhaar/docroute/inspect"
	"github.com/hazyhaar/docroute/parser"
	"github.com/hazyhaar/docroute/triage"
)

var version = "0.1.0"

var (
	colorRed    = color.New(color.FgRed, color.Bold)
	colorGreen  = color.New(color.FgGreen, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
)

// errReported is returned once a command has already printed its failure.
var errReported = errors.New("reported")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			colorRed.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// commonFlags are shared by every command that reads a config.
type commonFlags struct {
	configPath string
	inputPath  string
	outputPath string
	taskID     string
	documentID string
	logLevel   string
	set        []string
}

func (f *commonFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML config file ('-' reads stdin)")
	cmd.Flags().StringVarP(&f.inputPath, "input", "i", "", "input PDF")
	cmd.Flags().StringVarP(&f.outputPath, "output", "o", "", "output file")
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "task ID")
	cmd.Flags().StringVar(&f.documentID, "document-id", "", "document ID")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "DEBUG, INFO, WARNING, ERROR or CRITICAL")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "override a config key (key=value, repeatable)")
}

// load reads the config and applies the base overrides, then --set.
func (f *commonFlags) load(o config.Overrides) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	o.InputPath = f.inputPath
	o.OutputPath = f.outputPath
	o.TaskID = f.taskID
	o.DocumentID = f.documentID
	o.LogLevel = f.logLevel
	if err := cfg.ApplyBase(o); err != nil {
		return nil, err
	}
	if err := cfg.ApplySet(f.set); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "docroute",
		Short:         "Triage PDFs and route them to a parser or the dead-letter queue",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		newTriageCmd(stdout, stderr),
		newParseCmd(stdout, stderr),
		newServeCmd(stderr),
		newPoliciesCmd(stdout),
	)
	return root
}

func newTriageCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Inspect a PDF and print the routing decision as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(config.Overrides{})
			if err != nil {
				return err
			}
			if err := cfg.RequireInput(); err != nil {
				return err
			}
			logger, closeLog, err := config.NewLogger(cfg.Logging, stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			triager, err := cfg.BuildTriager(nil, logger)
			if err != nil {
				return err
			}
			res, err := triager.Execute(cmd.Context(), triage.Input{
				Path:       cfg.InputPath,
				TaskID:     document.TaskID(cfg.TaskID),
				DocumentID: document.DocumentID(cfg.DocumentID),
			})
			if err != nil {
				panel(stderr, colorRed, "Triage Failed", err.Error())
				return errReported
			}

			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if cfg.OutputPath != "" {
				if err := os.WriteFile(cfg.OutputPath, append(data, '\n'), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", cfg.OutputPath, err)
				}
				panel(stderr, colorGreen, "Triage Result", "Result written to "+cfg.OutputPath)
				return nil
			}
			fmt.Fprintln(stdout, string(data))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// remoteFlags are the picture options of the remote adapter.
type remoteFlags struct {
	pictureDescription    bool
	picturePrompt         string
	imagesScale           float64
	generatePictureImages bool
}

func (r *remoteFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&r.pictureDescription, "picture-description", false, "ask the remote engine to describe pictures")
	cmd.Flags().StringVar(&r.picturePrompt, "picture-prompt", "", "prompt for picture descriptions")
	cmd.Flags().Float64Var(&r.imagesScale, "images-scale", 0, "image scale for the remote engine")
	cmd.Flags().BoolVar(&r.generatePictureImages, "generate-picture-images", false, "ask the remote engine to render pictures")
}

// options returns the flags the user actually set.
func (r *remoteFlags) options(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	fs := cmd.Flags()
	if fs.Changed("picture-description") {
		out["picture_description"] = r.pictureDescription
	}
	if fs.Changed("picture-prompt") {
		out["picture_prompt"] = r.picturePrompt
	}
	if fs.Changed("images-scale") {
		out["images_scale"] = r.imagesScale
	}
	if fs.Changed("generate-picture-images") {
		out["generate_picture_images"] = r.generatePictureImages
	}
	return out
}

func newParseCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		flags      commonFlags
		remote     remoteFlags
		parserKind string
		options    string
	)
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse a PDF into markdown with the configured parser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := config.ParseOptionsJSON(options)
			if err != nil {
				return err
			}
			if opts == nil {
				opts = map[string]any{}
			}
			if ro := remote.options(cmd); len(ro) > 0 {
				if parserKind != "" && parserKind != parser.KindRemote {
					return document.Invalid("parser", "remote flags require parser=%s", parser.KindRemote)
				}
				for k, v := range ro {
					opts[k] = v
				}
			}

			cfg, err := flags.load(config.Overrides{ParserKind: parserKind, ParserOptions: opts})
			if err != nil {
				return err
			}
			if err := cfg.RequireInput(); err != nil {
				return err
			}
			logger, closeLog, err := config.NewLogger(cfg.Logging, stderr)
			if err != nil {
				return err
			}
			defer closeLog()

			reg := parser.DefaultRegistry(logger)
			pc, err := cfg.BuildParser(reg)
			if err != nil {
				return err
			}
			task, err := parser.NewRunner(reg, logger).Run(cmd.Context(), parser.Input{
				Path:       cfg.InputPath,
				Parser:     pc,
				TaskID:     document.TaskID(cfg.TaskID),
				DocumentID: document.DocumentID(cfg.DocumentID),
				Options:    document.DefaultParseOptions(),
			})
			if err != nil {
				panel(stderr, colorRed, "Parse Failed", err.Error())
				return errReported
			}

			var md string
			ok := false
			if doc := task.Document(); doc != nil {
				md, ok = doc.Markdown()
			}
			if !ok {
				panel(stderr, colorYellow, "Parse Result", "No markdown produced")
				return errReported
			}
			if cfg.OutputPath != "" {
				if err := os.WriteFile(cfg.OutputPath, []byte(md), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", cfg.OutputPath, err)
				}
				panel(stderr, colorGreen, "Parse Result", "Markdown written to "+cfg.OutputPath)
				return nil
			}
			fmt.Fprint(stdout, md)
			return nil
		},
	}
	flags.bind(cmd)
	remote.bind(cmd)
	cmd.Flags().StringVarP(&parserKind, "parser", "p", "", "parser kind (text, remote, mock)")
	cmd.Flags().StringVar(&options, "options", "", "parser options as a JSON object")
	return cmd
}

func newPoliciesCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the registered policy, parser and page reader kinds",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			rows := []struct {
				label string
				kinds []string
			}{
				{"triage policies", triage.DefaultRegistry().Kinds()},
				{"parsers", parser.DefaultRegistry(slog.New(slog.DiscardHandler)).Kinds()},
				{"page readers", inspect.ReaderKinds()},
			}
			for _, r := range rows {
				colorCyan.Fprintf(stdout, "%-16s", r.label)
				fmt.Fprintln(stdout, strings.Join(r.kinds, ", "))
			}
			return nil
		},
	}
}

// panel prints a titled block, the terminal rendition of a result box.
func panel(w io.Writer, c *color.Color, title, body string) {
	width := max(len(title)+8, 40)
	c.Fprintf(w, "── %s %s\n", title, strings.Repeat("─", width-len(title)-4))
	fmt.Fprintln(w, body)
	c.Fprintln(w, strings.Repeat("─", width))
}
