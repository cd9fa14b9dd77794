package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/reasoningbank/pkg/memory"
)

func newMemoryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage the memory bank",
	}
	cmd.AddCommand(
		newMemoryStatsCmd(flags),
		newMemorySearchCmd(flags),
		newMemoryClearCmd(flags),
	)
	return cmd
}

func newMemoryStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory bank statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			b, err := openBank(cmd.Context(), cfg, flags.logger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer b.Close()

			st := b.store.Stats()
			out := cmd.OutOrStdout()
			if flags.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStats(out, st)
			return nil
		},
	}
}

func printStats(w io.Writer, st memory.Stats) {
	fmt.Fprintf(w, "Memories:    %d (%d success, %d failure)\n", st.Total, st.SuccessCount, st.FailureCount)
	fmt.Fprintf(w, "Embeddings:  %v (dim %d)\n", st.HasEmbeddings, st.EmbeddingDimension)
	fmt.Fprintf(w, "Retrievals:  %d (%d followed by success, avg rate %.2f)\n",
		st.TotalRetrievals, st.TotalRetrievalSuccesses, st.AvgRetrievalSuccessRate)
	fmt.Fprintf(w, "Files:       %s, %s\n", st.MemoryFile, st.EmbeddingsFile)
	for taskType, n := range st.TaskTypes {
		fmt.Fprintf(w, "  %-40s %d\n", taskType, n)
	}
}

func newMemorySearchCmd(flags *globalFlags) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve the memories most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := openBank(ctx, cfg, flags.logger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer b.Close()

			var opts []memory.RetrieveOption
			if topK > 0 {
				opts = append(opts, memory.TopK(topK))
			}
			found, err := b.retriever.Retrieve(ctx, strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.JSON {
				hits := make([]memory.RetrievalSummary, len(found))
				for i, m := range found {
					hits[i] = m.Summary()
				}
				return json.NewEncoder(out).Encode(hits)
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "No memories above the similarity threshold.")
				return nil
			}
			fmt.Fprint(out, memory.FormatForPrompt(found))
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of memories to return (default: memory.top_k)")
	return cmd
}

func newMemoryClearCmd(flags *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every memory of the bank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return NewInvalidArgumentError("--yes", "clear deletes the whole bank; pass --yes to confirm")
			}
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := openBank(ctx, cfg, flags.logger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer b.Close()

			n := b.store.Size()
			if err := b.store.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d memories from %s\n", n, cfg.Memory.TaskName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
