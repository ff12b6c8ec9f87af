package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reoring/shapekit/apischema"
	"github.com/reoring/shapekit/shape"
)

func newMappingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mapping <shape-file>",
		Short: "Print the storage index (settings and mapping) of a shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := loadShape(args[0])
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), []*shape.Shape{sh}, false)
			if err != nil {
				return err
			}
			idx, err := svc.Index(sh.ID)
			if err != nil {
				return err
			}
			return a.emit(map[string]any{idx.Name: idx})
		},
	}
}

func newAPISchemaCommand(a *app) *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "apischema <shape-file>",
		Short: "Print the client-facing JSON Schema of a shape",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v apischema.Variant
			switch variant {
			case "full":
				v = apischema.Full
			case "input":
				v = apischema.Input
			default:
				return fmt.Errorf("variant must be full or input, got %q", variant)
			}
			sh, err := loadShape(args[0])
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), []*shape.Shape{sh}, false)
			if err != nil {
				return err
			}
			s, err := svc.APISchema(sh.ID, v)
			if err != nil {
				return err
			}
			return a.emit(s)
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "full", "schema variant: full or input")
	return cmd
}

func newOpenAPICommand(a *app) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "openapi <shape-file>...",
		Short: "Print the OpenAPI document for the shapes of one namespace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shapes := make([]*shape.Shape, 0, len(args))
			for _, p := range args {
				sh, err := loadShape(p)
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
				shapes = append(shapes, sh)
			}
			if namespace == "" {
				namespace = shapes[0].Namespace
			}
			svc, err := a.service(cmd.Context(), shapes, false)
			if err != nil {
				return err
			}
			doc, err := svc.OpenAPI(namespace)
			if err != nil {
				return err
			}
			return a.emit(doc)
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace to document (default: namespace of the first shape)")
	return cmd
}
