// Package commands implements the shapekit subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reoring/shapekit"
	"github.com/reoring/shapekit/bulk"
	"github.com/reoring/shapekit/bulk/dynamosink"
	"github.com/reoring/shapekit/bulk/filesink"
	"github.com/reoring/shapekit/config"
	"github.com/reoring/shapekit/internal/observability"
	"github.com/reoring/shapekit/shape"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// ErrUnknownFormat is returned for an unsupported --format value.
var ErrUnknownFormat = errors.New("format must be json or yaml")

// app carries state shared by subcommands.
type app struct {
	configPath string
	format     string

	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
}

// NewRootCommand builds the command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "shapekit",
		Short: "Compile and ingest records of dynamic shapes",
		Long: `shapekit compiles shape definitions into storage mappings and API
schemas, and transforms or ingests JSON records of those shapes.

Commands:
  mapping     Print the storage index of a shape
  apischema   Print the JSON Schema of a shape
  openapi     Print the OpenAPI document of a namespace
  transform   Rewrite records into (id, body) pairs
  ingest      Transform records and write them through the bulk sink`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./shapekit.yaml)")
	root.PersistentFlags().StringVarP(&a.format, "format", "f", formatJSON, "output format: json or yaml")

	root.AddCommand(
		newMappingCommand(a),
		newAPISchemaCommand(a),
		newOpenAPICommand(a),
		newTransformCommand(a),
		newIngestCommand(a),
	)
	return root
}

func (a *app) init() error {
	switch a.format {
	case formatJSON, formatYAML:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, a.format)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, err = observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format, a.errOut)
	return err
}

// service builds a Service holding the given shapes. withSink attaches the
// configured bulk sink.
func (a *app) service(ctx context.Context, shapes []*shape.Shape, withSink bool) (*shapekit.Service, error) {
	opts := shapekit.Options{
		TenantIDField: a.cfg.Tenancy.TenantIDField,
		IndexPrefix:   a.cfg.Storage.IndexPrefix,
		Limits:        a.cfg.Limits.UpsertLimits(),
		OpenAPI:       a.cfg.OpenAPI.Options(),
		Bulk:          a.cfg.Bulk.Manager(),
		Logger:        a.logger,
	}
	if withSink {
		sink, err := a.sink(ctx)
		if err != nil {
			return nil, err
		}
		opts.Sink = sink
	}
	svc, err := shapekit.New(opts)
	if err != nil {
		return nil, err
	}
	for _, sh := range shapes {
		if err := svc.PutShape(sh); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (a *app) sink(ctx context.Context) (bulk.Sink, error) {
	switch a.cfg.Storage.Sink {
	case config.SinkFile:
		return filesink.New(a.cfg.File.Dir)
	case config.SinkDynamo:
		client, err := dynamosink.LoadClient(ctx, a.cfg.Dynamo.Region, a.cfg.Dynamo.Endpoint)
		if err != nil {
			return nil, err
		}
		return dynamosink.New(client, a.cfg.Dynamo.Sink(), dynamosink.WithLogger(a.logger))
	}
	return nil, errors.New("no bulk sink configured (set storage.sink to file or dynamodb)")
}

// loadShape reads a JSON or YAML shape definition; the extension decides.
func loadShape(path string) (*shape.Shape, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shape: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return shape.ParseDefinitionYAML(b)
	}
	return shape.ParseDefinition(b)
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// emit writes v in the selected format. YAML output goes through JSON so
// field names match the JSON documents.
func (a *app) emit(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if a.format == formatJSON {
		_, err = fmt.Fprintln(a.out, string(b))
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	y, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	_, err = a.out.Write(y)
	return err
}
