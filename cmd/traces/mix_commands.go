package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"traceapi/internal/api"
	"traceapi/internal/client"
	"traceapi/internal/store"
)

const defaultWaitInterval = time.Second

func newMixCommand(ctx *commandContext) *cobra.Command {
	mixCmd := &cobra.Command{
		Use:   "mix",
		Short: "Create, generate, and download mixes",
	}
	mixCmd.AddCommand(newMixListCommand(ctx))
	mixCmd.AddCommand(newMixShowCommand(ctx))
	mixCmd.AddCommand(newMixCreateCommand(ctx))
	mixCmd.AddCommand(newMixDeleteCommand(ctx))
	mixCmd.AddCommand(newMixGenerateCommand(ctx))
	mixCmd.AddCommand(newMixStatusCommand(ctx))
	mixCmd.AddCommand(newMixDownloadCommand(ctx))
	return mixCmd
}

func newMixListCommand(ctx *commandContext) *cobra.Command {
	var req api.MixFindRequest

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Find mixes by name, description, or labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(cl *client.Client) error {
				mixes, err := cl.FindMixes(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), mixes, func() error {
					out := cmd.OutOrStdout()
					if len(mixes) == 0 {
						fmt.Fprintln(out, "No mixes found")
						return nil
					}
					rows := make([][]string, 0, len(mixes))
					for _, m := range mixes {
						rows = append(rows, []string{
							strconv.FormatInt(m.ID, 10),
							m.Name,
							strconv.Itoa(len(m.AnnotatedUnits)),
							strings.Join(m.Labels, ", "),
							m.CreatedAt,
						})
					}
					fmt.Fprint(out, renderTable([]string{"ID", "Name", "Units", "Labels", "Created"}, rows,
						[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft}, isTerminal(out)))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Case-insensitive name substring")
	cmd.Flags().StringVar(&req.Description, "description", "", "Case-insensitive description substring")
	cmd.Flags().StringSliceVar(&req.Labels, "label", nil, "Label filter (repeatable)")
	cmd.Flags().StringVar(&req.Operator, "operator", "", "Label operator: and, or")
	cmd.Flags().IntVar(&req.Page, "page", 0, "Zero-based page number")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "Page size (0 for the server default)")
	return cmd
}

func newMixShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a mix and its origins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				m, err := cl.Mix(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), m, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Mix %d\n", m.ID)
					fmt.Fprintf(out, "  Name:        %s\n", m.Name)
					fmt.Fprintf(out, "  Description: %s\n", m.Description)
					fmt.Fprintf(out, "  Labels:      %s\n", strings.Join(m.Labels, ", "))
					fmt.Fprintf(out, "  Created:     %s\n", m.CreatedAt)
					rows := make([][]string, 0, len(m.AnnotatedUnits))
					for _, o := range m.AnnotatedUnits {
						rows = append(rows, []string{
							strconv.FormatInt(o.AnnotatedUnitID, 10),
							strconv.FormatFloat(o.Timestamp, 'f', -1, 64),
							strconv.Itoa(len(o.IPMapping)),
							strconv.Itoa(len(o.MACMapping)),
						})
					}
					fmt.Fprint(out, renderTable([]string{"Annotated Unit", "Timestamp", "IP Rules", "MAC Rules"}, rows,
						[]columnAlignment{alignRight, alignRight, alignRight, alignRight}, isTerminal(out)))
					return nil
				})
			})
		},
	}
}

func newMixCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.MixCreateRequest
	var origins []string
	var fromFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a mix from annotated units",
		Long: "Create a mix from annotated units. Pass --origin <id>[@<timestamp>] once per annotated\n" +
			"unit, or --file with a JSON request body to include address mappings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromFile != "" {
				loaded, err := loadMixRequest(fromFile)
				if err != nil {
					return err
				}
				req = loaded
			} else {
				parsed, err := parseOrigins(origins)
				if err != nil {
					return err
				}
				req.AnnotatedUnits = parsed
			}
			return ctx.withClient(func(cl *client.Client) error {
				m, err := cl.CreateMix(cmd.Context(), req)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), m, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Created mix %d (%s)\n", m.ID, m.Name)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Mix name")
	cmd.Flags().StringVar(&req.Description, "description", "", "Mix description")
	cmd.Flags().StringSliceVar(&req.Labels, "label", nil, "Label to attach (repeatable)")
	cmd.Flags().StringArrayVar(&origins, "origin", nil, "Annotated unit as <id>[@<timestamp>] (repeatable)")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "JSON file holding the full create request")
	cmd.MarkFlagsMutuallyExclusive("file", "origin")
	return cmd
}

func parseOrigins(values []string) ([]api.Origin, error) {
	if len(values) == 0 {
		return nil, errors.New("at least one --origin is required")
	}
	origins := make([]api.Origin, 0, len(values))
	for _, value := range values {
		idPart, tsPart, hasTS := strings.Cut(strings.TrimSpace(value), "@")
		id, err := parseID(idPart)
		if err != nil {
			return nil, fmt.Errorf("origin %q: %w", value, err)
		}
		origin := api.Origin{AnnotatedUnitID: id}
		if hasTS {
			ts, err := strconv.ParseFloat(tsPart, 64)
			if err != nil || ts < 0 {
				return nil, fmt.Errorf("origin %q: invalid timestamp", value)
			}
			origin.Timestamp = ts
		}
		origins = append(origins, origin)
	}
	return origins, nil
}

func loadMixRequest(path string) (api.MixCreateRequest, error) {
	var req api.MixCreateRequest
	raw, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read mix request: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("parse mix request %s: %w", path, err)
	}
	return req, nil
}

func newMixDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a mix and its generations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				if err := cl.DeleteMix(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted mix %d\n", id)
				return nil
			})
		},
	}
}

func newMixGenerateCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "generate <id>",
		Short: "Start generating a mix capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				gen, err := cl.Generate(cmd.Context(), id)
				if err != nil {
					return err
				}
				if wait {
					gen, err = waitForGeneration(cmd.Context(), cl, id, interval)
					if err != nil {
						return err
					}
				}
				return writeOutput(cmd, ctx.outputFormat(), gen, func() error {
					printGeneration(cmd.OutOrStdout(), gen)
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the generation completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", defaultWaitInterval, "Polling interval used with --wait")
	return cmd
}

// waitForGeneration polls until the generation reaches a terminal state.
func waitForGeneration(ctx context.Context, cl *client.Client, mixID int64, interval time.Duration) (*api.Generation, error) {
	if interval <= 0 {
		interval = defaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		gen, err := cl.GenerationStatus(ctx, mixID)
		if err != nil {
			return nil, err
		}
		switch store.GenerationState(gen.State) {
		case store.GenerationComplete:
			return gen, nil
		case store.GenerationFailed:
			return nil, fmt.Errorf("generation of mix %d failed: %s", mixID, gen.Error)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printGeneration(out io.Writer, gen *api.Generation) {
	fmt.Fprintf(out, "Mix %d generation %d: %s (%d%%)\n", gen.MixID, gen.ID, displayState(gen.State), gen.Progress)
	if gen.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", gen.Error)
	}
}

func newMixStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the current generation of a mix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(cl *client.Client) error {
				gen, err := cl.GenerationStatus(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeOutput(cmd, ctx.outputFormat(), gen, func() error {
					printGeneration(cmd.OutOrStdout(), gen)
					return nil
				})
			})
		},
	}
}

func newMixDownloadCommand(ctx *commandContext) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download the generated capture of a mix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if target == "" {
				target = fmt.Sprintf("mix-%d.pcap", id)
			}
			return ctx.withClient(func(cl *client.Client) error {
				return downloadTo(cmd, target, func(w io.Writer) (int64, error) {
					return cl.DownloadMix(cmd.Context(), id, w)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&target, "file", "f", "", "Destination path (default mix-<id>.pcap)")
	return cmd
}

// downloadTo streams into target via a partial file renamed on success.
func downloadTo(cmd *cobra.Command, target string, fetch func(io.Writer) (int64, error)) error {
	tmp := target + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	n, err := fetch(file)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize %s: %w", target, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, target)
	return nil
}
