package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/agentorg/config"
	"github.com/vinayprograms/agentorg/directory"
	agenterrors "github.com/vinayprograms/agentorg/errors"
	"github.com/vinayprograms/agentorg/llm"
	"github.com/vinayprograms/agentorg/message"
)

func newHierarchyCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Print the reporting tree of the configured roster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := startLocal(cmd.Context(), flags, llm.NewEcho(""))
			if err != nil {
				return err
			}
			defer o.Shutdown(context.Background())

			roots, err := o.Hierarchy()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), roots)
			}
			return writeTree(cmd.OutOrStdout(), roots)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func writeTree(w io.Writer, roots []*directory.Node) error {
	var err error
	for _, root := range roots {
		root.Walk(func(n *directory.Node, depth int) {
			if err != nil {
				return
			}
			r := n.Record
			_, err = fmt.Fprintf(w, "%s%s (%s, %s) [%s]\n", strings.Repeat("  ", depth), r.ID, r.Role, r.Name, r.Status)
		})
	}
	return err
}

func newRosterCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "List the configured agents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), cfg.Agents)
			}
			return writeRoster(cmd.OutOrStdout(), cfg.Agents)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func writeRoster(w io.Writer, agents []config.AgentConfig) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tTIER\tDEPARTMENT\tREPORTS TO\tCAPABILITIES")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Role, a.Tier, dash(a.Department), dash(a.ReportingTo), strings.Join(a.Capabilities, ","))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ask <agent-id> <question...>",
		Short: "Ask one agent a question and print its answer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			gen, err := generatorFor(cfg)
			if err != nil {
				return err
			}
			o, err := startLocal(cmd.Context(), flags, gen)
			if err != nil {
				return err
			}
			defer o.Shutdown(context.Background())

			q := message.Query{Question: strings.Join(args[1:], " ")}
			res, err := o.Request(cmd.Context(), args[0], q, timeout)
			if err != nil {
				return err
			}
			if err := res.Err(); err != nil {
				if agenterrors.IsRetryable(err) {
					return fmt.Errorf("%s did not answer: %w (retryable)", args[0], err)
				}
				return fmt.Errorf("%s did not answer: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), res.Payload())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the answer (default: orchestrator.request_timeout)")
	return cmd
}

func generatorFor(cfg *config.Config) (llm.Generator, error) {
	creds, _, err := config.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	provider := cfg.LLM.Provider
	if provider == "" {
		provider = llm.InferProviderFromModel(cfg.LLM.Model)
	}
	return llm.New(cfg.LLM.Generator(creds.APIKey(provider)))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
