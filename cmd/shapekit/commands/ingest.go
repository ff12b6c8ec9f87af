package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/reoring/shapekit/shape"
	"github.com/reoring/shapekit/upsert"
)

// holderLine is the NDJSON form of a transformed entity.
type holderLine struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

func newTransformCommand(a *app) *cobra.Command {
	var tenant string
	var single bool
	cmd := &cobra.Command{
		Use:   "transform <shape-file> <input|->",
		Short: "Rewrite JSON records into (id, body) pairs, one per line",
		Long: `transform runs the upsert transformer over a JSON array of records (or a
single object with --single) and prints one {"id","body"} line per entity.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := loadShape(args[0])
			if err != nil {
				return err
			}
			input, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context(), []*shape.Shape{sh}, false)
			if err != nil {
				return err
			}
			ectx := &upsert.Context{TenantID: tenant}
			var holders []upsert.EntityHolder
			if single {
				h, err := svc.Upsert(cmd.Context(), sh.ID, input, ectx)
				if err != nil {
					return err
				}
				holders = []upsert.EntityHolder{h}
			} else {
				holders, err = svc.UpsertArray(cmd.Context(), sh.ID, input, ectx)
				if err != nil {
					return err
				}
			}
			enc := json.NewEncoder(a.out)
			for _, h := range holders {
				if err := enc.Encode(holderLine{ID: h.ID, Body: h.Body}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id for shared multi-tenancy shapes")
	cmd.Flags().BoolVar(&single, "single", false, "input is a single object instead of an array")
	return cmd
}

func newIngestCommand(a *app) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "ingest <shape-file> <input|->...",
		Short: "Transform JSON arrays of records and write them through the bulk sink",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sh, err := loadShape(args[0])
			if err != nil {
				return err
			}
			svc, err := a.service(ctx, []*shape.Shape{sh}, true)
			if err != nil {
				return err
			}
			defer svc.Shutdown(ctx)

			start := time.Now()
			if err := svc.BulkOpen(ctx, sh.ID); err != nil {
				return err
			}
			var entities int
			var size uint64
			for _, p := range args[1:] {
				input, err := readInput(cmd, p)
				if err != nil {
					_ = svc.BulkClose(ctx, sh.ID)
					return err
				}
				n, err := svc.BulkUpsert(ctx, sh.ID, input, &upsert.Context{TenantID: tenant})
				if err != nil {
					_ = svc.BulkClose(ctx, sh.ID)
					return fmt.Errorf("%s: %w", p, err)
				}
				entities += n
				size += uint64(len(input))
			}
			if err := svc.BulkClose(ctx, sh.ID); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "ingested %s entities (%s) into %s in %s\n",
				humanize.Comma(int64(entities)), humanize.Bytes(size), sh.ID, time.Since(start).Round(time.Millisecond))
			return err
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id for shared multi-tenancy shapes")
	return cmd
}
