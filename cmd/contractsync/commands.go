package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goran-ethernal/ContractSync/internal/common"
	"github.com/goran-ethernal/ContractSync/internal/config"
	"github.com/goran-ethernal/ContractSync/internal/db"
	"github.com/goran-ethernal/ContractSync/internal/progress"
	"github.com/goran-ethernal/ContractSync/internal/registry"
	"github.com/goran-ethernal/ContractSync/internal/schema"
	"github.com/goran-ethernal/ContractSync/internal/syncer"
	"github.com/goran-ethernal/ContractSync/internal/writer"
	pkgconfig "github.com/goran-ethernal/ContractSync/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const separator = "  ─────────────────────────────────────────────────────────────────\n"

var failuresLimit int

func init() {
	failuresCmd.Flags().IntVarP(&failuresLimit, "limit", "n", 50, "maximum number of failures to list (0 lists all)")
}

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "List the registered contracts and the events synced for each",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		snapshot, err := a.registry.Load(cmd.Context())
		if err != nil {
			return err
		}

		printContracts(cmd.OutOrStdout(), snapshot)
		return nil
	},
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List occurrences that could not be written",
	Long: `List occurrences that could not be written, most recent first.

Progress is recorded per block. When another occurrence of the same block was
written, the block counts as synced and the failed occurrence listed here is
not attempted again by later cycles.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		failures, err := a.writer.Failures(cmd.Context(), failuresLimit)
		if err != nil {
			return err
		}

		printFailures(cmd.OutOrStdout(), failures)
		return nil
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress [contract-id]",
	Short: "Show how many blocks are synced per contract and event",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter *uint64
		if len(args) == 1 {
			id, err := common.ParseUint64orHex(&args[0])
			if err != nil {
				return fmt.Errorf("invalid contract id %q: %w", args[0], err)
			}
			filter = &id
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.ledger.Summary(cmd.Context())
		if err != nil {
			return err
		}

		printProgress(cmd.OutOrStdout(), summary, filter)
		return nil
	},
}

var tableCmd = &cobra.Command{
	Use:   "table <contract-id>",
	Short: "Describe the event table of a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := common.ParseUint64orHex(&args[0])
		if err != nil {
			return fmt.Errorf("invalid contract id %q: %w", args[0], err)
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		table, err := a.schema.Describe(cmd.Context(), id)
		if err != nil {
			return err
		}
		if table == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "contract %d has no event table yet\n", id)
			return nil
		}

		printTable(cmd.OutOrStdout(), table, a.db.Engine())
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := json.MarshalIndent(jsonschema.Reflect(&pkgconfig.Config{}), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// openApp wires the database-backed components without dialing the chain.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return newApp(cmd.Context(), cfg, false)
}

func printStats(w io.Writer, stats syncer.CycleStats) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "\n=== Sync Cycle Summary ===\n\n")
	p.Fprintf(w, "  Pairs:            %12d  (%d failed)\n", stats.Pairs, stats.FailedPairs)
	p.Fprintf(w, "  Pages:            %12d\n", stats.Pages)
	p.Fprintf(w, "  Blocks scanned:   %12d\n", stats.BlocksScanned)
	p.Fprintf(w, "  Blocks missing:   %12d\n", stats.BlocksMissing)
	p.Fprintf(w, "  Occurrences:      %12d\n", stats.Occurrences)
	p.Fprintf(w, "  Written:          %12d\n", stats.Written)
	p.Fprintf(w, "  Write failures:   %12d\n", stats.WriteFailures)
	p.Fprintf(w, "  Decode failures:  %12d\n", stats.DecodeFailures)
}

func printContracts(w io.Writer, snapshot *registry.Snapshot) {
	p := message.NewPrinter(language.English)

	events := make(map[uint64][]string, len(snapshot.Contracts))
	for _, pair := range snapshot.Pairs {
		events[pair.Contract.ID] = append(events[pair.Contract.ID],
			p.Sprintf("%s#%d", pair.Def.Name, pair.Def.EventID))
	}

	p.Fprintf(w, "  ID      Address                                      Start block  Events\n")
	fmt.Fprint(w, separator)
	for _, c := range snapshot.Contracts {
		synced := strings.Join(events[c.ID], ", ")
		if synced == "" {
			synced = "(none)"
		}
		p.Fprintf(w, "  %-6d  %-42s  %12d  %s\n", c.ID, strings.ToLower(c.Address.Hex()), c.StartingBlock, synced)
	}
	fmt.Fprint(w, separator)
	p.Fprintf(w, "  %d contract(s), %d event(s), %d pair(s)\n", len(snapshot.Contracts), len(snapshot.Events),
		len(snapshot.Pairs))
}

func printFailures(w io.Writer, failures []*writer.Failure) {
	p := message.NewPrinter(language.English)

	if len(failures) == 0 {
		fmt.Fprintln(w, "no recorded failures")
		return
	}

	for _, f := range failures {
		p.Fprintf(w, "contract %d event %d block %d tx %s log %d\n", f.ContractID, f.EventID, f.BlockNumber,
			f.TxHash, f.LogIndex)
		p.Fprintf(w, "  kind:     %s (%d attempt(s))\n", f.Kind, f.Attempts)
		p.Fprintf(w, "  seen:     %s .. %s\n", formatUnix(f.FirstSeen), formatUnix(f.LastSeen))
		p.Fprintf(w, "  error:    %s\n", f.Error)
	}
}

func printProgress(w io.Writer, summary []*progress.PairProgress, filter *uint64) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "  Contract  Event   Synced blocks   First block    Last block\n")
	fmt.Fprint(w, separator)
	for _, s := range summary {
		if filter != nil && s.ContractID != *filter {
			continue
		}
		p.Fprintf(w, "  %-8d  %-6d  %13d  %12d  %12d\n", s.ContractID, s.EventID, s.Blocks, s.FirstBlock, s.LastBlock)
	}
}

func printTable(w io.Writer, table *schema.Table, engine db.Engine) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "%s (contract %d, %s)\n", table.Name, table.ContractID, engine)
	fmt.Fprint(w, separator)
	for _, c := range table.Columns {
		p.Fprintf(w, "  %-3d %-32s %-8s %-12s field %s\n", c.Position, c.Name, c.Type, c.Type.SQLType(engine), c.Field)
	}
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
