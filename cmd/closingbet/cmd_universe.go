package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/pit"
)

func newUniverseCmd() *cobra.Command {
	universeCmd := &cobra.Command{
		Use:   "universe",
		Short: "Point-in-time universe snapshots",
		Long: `Universe snapshots record which symbols were tradable on a date.
Snapshots are immutable: saving an existing (date, source) pair is refused.`,
	}

	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Save the universe for a date",
		RunE:  runUniverseSave,
	}
	saveCmd.Flags().String("symbols", "", "Comma-separated symbols")
	saveCmd.Flags().String("file", "", "File with one symbol per line ('#' starts a comment)")
	saveCmd.Flags().StringToString("meta", nil, "Metadata key=value pairs")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the snapshot of an exact date",
		RunE:  runUniverseGet,
	}

	nearestCmd := &cobra.Command{
		Use:   "nearest",
		Short: "Show the snapshot closest to a date",
		RunE:  runUniverseGet,
	}
	nearestCmd.Flags().Int("max-days", pit.DefaultMaxDays, "Maximum distance in days")

	for _, c := range []*cobra.Command{saveCmd, getCmd, nearestCmd} {
		c.Flags().String("date", "", "Snapshot date (YYYY-MM-DD, required)")
		c.Flags().String("source", "", "Universe source, e.g. kospi200 (required)")
		_ = c.MarkFlagRequired("date")
		_ = c.MarkFlagRequired("source")
	}

	universeCmd.AddCommand(saveCmd, getCmd, nearestCmd)
	return universeCmd
}

func runUniverseSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := configFrom(cmd)

	dateFlag, _ := cmd.Flags().GetString("date")
	source, _ := cmd.Flags().GetString("source")
	symbolsFlag, _ := cmd.Flags().GetString("symbols")
	file, _ := cmd.Flags().GetString("file")
	meta, _ := cmd.Flags().GetStringToString("meta")

	date, err := parseTime(dateFlag)
	if err != nil {
		return err
	}

	symbols := splitList(symbolsFlag)
	if file != "" {
		fromFile, err := readSymbolFile(file)
		if err != nil {
			return err
		}
		symbols = append(symbols, fromFile...)
	}
	if len(symbols) == 0 {
		return errors.New("no symbols given: use --symbols or --file")
	}

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	snapshot := pit.NewSnapshot(date, source, symbols, meta)
	if err := svc.universeStore().Save(ctx, snapshot); err != nil {
		if errors.Is(err, pit.ErrSnapshotExists) {
			return fmt.Errorf("%s %s: %w", source, snapshot.Date.Format("2006-01-02"), err)
		}
		return err
	}

	log.Info().Str("source", source).Time("date", snapshot.Date).Int("symbols", len(symbols)).
		Msg("Universe snapshot saved")
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d symbols for %s on %s\n", len(symbols), source, snapshot.Date.Format("2006-01-02"))
	return nil
}

// runUniverseGet serves both `get` and `nearest`
func runUniverseGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := configFrom(cmd)

	dateFlag, _ := cmd.Flags().GetString("date")
	source, _ := cmd.Flags().GetString("source")
	date, err := parseTime(dateFlag)
	if err != nil {
		return err
	}

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	store := svc.universeStore()
	var snapshot *interfaces.UniverseSnapshot
	if cmd.Name() == "nearest" {
		maxDays, _ := cmd.Flags().GetInt("max-days")
		snapshot, err = store.GetNearest(ctx, date, source, maxDays)
	} else {
		snapshot, err = store.Get(ctx, date, source)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, snapshot)
	}

	fmt.Fprintf(out, "%s universe on %s (%d symbols)\n", snapshot.Source, snapshot.Date.Format("2006-01-02"), len(snapshot.Symbols))
	rows := make([][]string, 0, len(snapshot.Symbols))
	for i, symbol := range snapshot.Symbols {
		rows = append(rows, []string{fmt.Sprint(i + 1), symbol})
	}
	renderTable(out, []string{"#", "Symbol"}, rows)
	for k, v := range snapshot.Metadata {
		fmt.Fprintf(out, "%s=%s\n", k, v)
	}
	return nil
}

func readSymbolFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbol file: %w", err)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			symbols = append(symbols, line)
		}
	}
	return symbols, scanner.Err()
}
