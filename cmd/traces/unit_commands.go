package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"traceapi/internal/api"
	"traceapi/internal/client"
)

func newUnitCommand(ctx *commandContext) *cobra.Command {
	unitCmd := &cobra.Command{
		Use:   "unit",
		Short: "Upload and annotate raw captures",
	}
	unitCmd.AddCommand(newUnitUploadCommand(ctx))
	unitCmd.AddCommand(newUnitAnnotateCommand(ctx))
	return unitCmd
}

func newUnitUploadCommand(ctx *commandContext) *cobra.Command {
	var format string
	var annotation string

	cmd := &cobra.Command{
		Use:   "upload <capture>",
		Short: "Upload a pcap or pcapng capture as a new unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open capture: %w", err)
			}
			defer file.Close()

			if strings.TrimSpace(format) == "" {
				format = captureFormat(path)
			}
			return ctx.withClient(func(cl *client.Client) error {
				u, err := cl.UploadUnit(cmd.Context(), file, format, annotation)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), u, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Uploaded unit %d (%s)\n", u.ID, u.Format)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Capture format (pcap or pcapng); inferred from the extension when empty")
	cmd.Flags().StringVar(&annotation, "annotation", "", "Free-form note stored with the unit")
	return cmd
}

func captureFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".pcapng") {
		return "pcapng"
	}
	return "pcap"
}

func newUnitAnnotateCommand(ctx *commandContext) *cobra.Command {
	var req api.AnnotatedUnitCreateRequest
	var ipDetails string

	cmd := &cobra.Command{
		Use:   "annotate <unit-id>",
		Short: "Create an annotated unit from an uploaded unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req.UnitID = id
			if strings.TrimSpace(ipDetails) != "" {
				if !json.Valid([]byte(ipDetails)) {
					return fmt.Errorf("--ip-details must be valid JSON")
				}
				req.IPDetails = json.RawMessage(ipDetails)
			}
			return ctx.withClient(func(cl *client.Client) error {
				au, err := cl.AnnotateUnit(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), au, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Created annotated unit %d (%s)\n", au.ID, au.Name)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Annotated unit name")
	cmd.Flags().StringVar(&req.Description, "description", "", "Annotated unit description")
	cmd.Flags().StringSliceVar(&req.Labels, "label", nil, "Label to attach (repeatable)")
	cmd.Flags().Float64Var(&req.Timestamp, "timestamp", 0, "Base timestamp in seconds")
	cmd.Flags().StringVar(&ipDetails, "ip-details", "", "Opaque JSON describing the capture's hosts")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAnnotatedCommand(ctx *commandContext) *cobra.Command {
	annotatedCmd := &cobra.Command{
		Use:     "annotated",
		Aliases: []string{"au"},
		Short:   "Inspect and remove annotated units",
	}
	annotatedCmd.AddCommand(newAnnotatedListCommand(ctx))
	annotatedCmd.AddCommand(newAnnotatedShowCommand(ctx))
	annotatedCmd.AddCommand(newAnnotatedDeleteCommand(ctx))
	annotatedCmd.AddCommand(newAnnotatedDownloadCommand(ctx))
	return annotatedCmd
}

func newAnnotatedListCommand(ctx *commandContext) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List annotated units, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				units, err := cl.AnnotatedUnits(cmd.Context(), page, limit)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), units, func() error {
					out := cmd.OutOrStdout()
					if len(units) == 0 {
						fmt.Fprintln(out, "No annotated units")
						return nil
					}
					rows := make([][]string, 0, len(units))
					for _, au := range units {
						rows = append(rows, []string{
							strconv.FormatInt(au.ID, 10),
							au.Name,
							strings.Join(au.Labels, ", "),
							au.CreatedAt,
						})
					}
					fmt.Fprint(out, renderTable([]string{"ID", "Name", "Labels", "Created"}, rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}, isTerminal(out)))
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "Zero-based page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (0 for the server default)")
	return cmd
}

func newAnnotatedShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an annotated unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				au, err := cl.AnnotatedUnit(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), au, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Annotated unit %d\n", au.ID)
					fmt.Fprintf(out, "  Name:        %s\n", au.Name)
					fmt.Fprintf(out, "  Description: %s\n", au.Description)
					fmt.Fprintf(out, "  Labels:      %s\n", strings.Join(au.Labels, ", "))
					fmt.Fprintf(out, "  Created:     %s\n", au.CreatedAt)
					if len(au.Stats) > 0 {
						fmt.Fprintf(out, "  Stats:       %s\n", au.Stats)
					}
					return nil
				})
			})
		},
	}
}

func newAnnotatedDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an annotated unit no mix references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.DeleteAnnotatedUnit(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted annotated unit %d\n", id)
				return nil
			})
		},
	}
}

func newAnnotatedDownloadCommand(ctx *commandContext) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download the normalized capture of an annotated unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if target == "" {
				target = fmt.Sprintf("annotated-unit-%d.pcap", id)
			}
			return ctx.withClient(func(cl *client.Client) error {
				return downloadTo(cmd, target, func(w io.Writer) (int64, error) {
					return cl.DownloadAnnotatedUnit(cmd.Context(), id, w)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&target, "file", "f", "", "Destination path (default annotated-unit-<id>.pcap)")
	return cmd
}
