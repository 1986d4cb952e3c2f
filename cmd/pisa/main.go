// Command pisa builds a template from a YAML pipeline settings file and
// writes it as JSON, optionally warming nominal caches from the configured
// snapshot store and running a coarse parameter scan.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"pisa/internal/core"
	"pisa/internal/services"
	"pisa/internal/snapshot"
	"pisa/pkg/stageapi"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	settingsPath string
	outputPath   string
	warm         bool
	saveNominal  bool
	scan         string
	trace        bool
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pisa", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.settingsPath, "t", "", "pipeline settings YAML (required)")
	fs.StringVar(&opts.outputPath, "o", "", "output JSON path (default stdout)")
	fs.BoolVar(&opts.warm, "warm", false, "restore nominal transforms from the snapshot store before generating")
	fs.BoolVar(&opts.saveNominal, "save-nominal", false, "persist nominal transforms to the snapshot store")
	fs.StringVar(&opts.scan, "scan", "", "parameter grid, e.g. \"norm.livetime=1,2,3;sys.det.eff=-1,0,1\"")
	fs.BoolVar(&opts.trace, "trace", false, "emit JSON trace spans to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if opts.settingsPath == "" {
		fmt.Fprintln(stderr, "pisa: -t <settings.yaml> is required")
		fs.Usage()
		return 2
	}
	if err := run(context.Background(), opts, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "pisa: %v\n", err)
		return 1
	}
	return 0
}

// output is the JSON document the command emits.
type output struct {
	Pipeline    string                         `json:"pipeline"`
	Fingerprint string                         `json:"fingerprint"`
	Maps        []outputMap                    `json:"maps"`
	CacheStats  map[string]stageapi.CacheStats `json:"cache_stats"`
	Restored    int                            `json:"restored_nominals,omitempty"`
	Saved       int                            `json:"saved_nominals,omitempty"`
	Scan        *core.ScanResult               `json:"scan,omitempty"`
}

type outputMap struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
	Errors []float64 `json:"errors"`
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	settings, err := core.LoadSettings(opts.settingsPath)
	if err != nil {
		return err
	}
	pipeline, err := core.NewPipeline(settings, services.DefaultRegistry())
	if err != nil {
		return err
	}

	var tmOpts []core.Option
	if opts.warm || opts.saveNominal {
		store, err := snapshot.Open(ctx)
		if err != nil {
			return err
		}
		tmOpts = append(tmOpts, core.WithSnapshotStore(store))
	}
	if opts.trace {
		tmOpts = append(tmOpts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	tm := core.NewTemplateMaker(pipeline, tmOpts...)

	doc := output{Pipeline: pipeline.Name()}
	if opts.warm {
		restored, err := tm.WarmCaches(ctx)
		if err != nil {
			return err
		}
		doc.Restored = restored
	}

	template, err := tm.GenerateTemplate(ctx)
	if err != nil {
		return err
	}
	doc.Fingerprint = template.Fingerprint().String()
	for _, m := range template.Maps() {
		doc.Maps = append(doc.Maps, outputMap{Name: m.Name(), Values: m.Values(), Errors: m.Errors()})
	}

	if opts.saveNominal {
		saved, err := tm.SaveNominal(ctx)
		if err != nil {
			return err
		}
		doc.Saved = saved
	}

	if opts.scan != "" {
		grid, err := parseGrid(opts.scan)
		if err != nil {
			return err
		}
		result, err := tm.Scan(ctx, template, grid)
		if err != nil {
			return err
		}
		doc.Scan = result
	}
	doc.CacheStats = tm.CacheStats()

	return writeOutput(doc, opts.outputPath, stdout)
}

// parseGrid decodes "name=v1,v2;name2=v3,v4" into a scan grid.
func parseGrid(spec string) (core.ParamGrid, error) {
	grid := make(core.ParamGrid)
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, list, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("scan entry %q is not of the form name=v1,v2", part)
		}
		var values []float64
		for _, raw := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("scan entry %q: %w", part, err)
			}
			values = append(values, v)
		}
		grid[strings.TrimSpace(name)] = values
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("empty scan grid %q", spec)
	}
	return grid, nil
}

func writeOutput(doc output, path string, stdout io.Writer) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
