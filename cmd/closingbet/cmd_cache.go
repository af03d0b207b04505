package main

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/point10890-crypto/closing-bet-sub002/internal/data/cold"
	"github.com/point10890-crypto/closing-bet-sub002/internal/data/interfaces"
)

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the reproducibility cache",
		Long:  "Import candle files into the configured cache backend and inspect what is stored",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a CSV or JSON candle file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCacheImport,
	}
	importCmd.Flags().String("symbol", "", "Symbol of the series (required)")
	importCmd.Flags().String("timeframe", "", "Timeframe of the series (defaults to the configured one)")
	importCmd.Flags().String("source", "csv", "Source label of the series")
	importCmd.Flags().Bool("strict", false, "Fail on malformed rows instead of skipping them")
	_ = importCmd.MarkFlagRequired("symbol")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "List cached series with their content hashes",
		RunE:  runCacheShow,
	}
	showCmd.Flags().String("symbol", "", "Only show this symbol")

	cacheCmd.AddCommand(importCmd, showCmd)
	return cacheCmd
}

func runCacheImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := configFrom(cmd)

	symbol, _ := cmd.Flags().GetString("symbol")
	tf, _ := cmd.Flags().GetString("timeframe")
	source, _ := cmd.Flags().GetString("source")
	strict, _ := cmd.Flags().GetBool("strict")

	key := interfaces.CacheKey{Symbol: symbol, Timeframe: cfg.Timeframe, Source: source}
	if tf != "" {
		key.Timeframe = interfaces.Timeframe(tf)
	}
	if err := key.Validate(); err != nil {
		return err
	}

	reader := cold.NewCSVReader()
	if strict {
		reader.Strict()
	}
	series, err := reader.LoadFile(args[0])
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return fmt.Errorf("%s contains no candles", args[0])
	}

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	hash, err := svc.cache.Save(ctx, key, series)
	if err != nil {
		return err
	}

	log.Info().
		Str("key", key.String()).
		Str("backend", cfg.Cache.Backend).
		Int("candles", len(series)).
		Str("hash", hash).
		Msg("Series imported")

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, map[string]interface{}{"key": key, "candles": len(series), "hash": hash})
	}
	fmt.Fprintf(out, "Imported %d candles for %s (%s .. %s)\nhash %s\n",
		len(series), key, fmtTime(series[0].Timestamp), fmtTime(series[len(series)-1].Timestamp), hash)
	return nil
}

// cacheRow is one line of `closingbet cache show`
type cacheRow struct {
	Key     interfaces.CacheKey `json:"key"`
	Candles int                 `json:"candles"`
	First   string              `json:"first"`
	Last    string              `json:"last"`
	Hash    string              `json:"hash"`
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := configFrom(cmd)
	symbol, _ := cmd.Flags().GetString("symbol")

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	keys, err := svc.cache.Keys(ctx)
	if err != nil {
		return err
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var rows []cacheRow
	for _, key := range keys {
		if symbol != "" && key.Symbol != symbol {
			continue
		}
		series, err := svc.cache.Load(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("Cached series unreadable")
			continue
		}
		hash, err := svc.cache.Hash(ctx, key)
		if err != nil {
			return err
		}
		row := cacheRow{Key: key, Candles: len(series), First: "-", Last: "-", Hash: hash}
		if len(series) > 0 {
			row.First = fmtTime(series[0].Timestamp)
			row.Last = fmtTime(series[len(series)-1].Timestamp)
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, map[string]interface{}{"entries": rows, "stats": svc.cache.Stats()})
	}

	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.Key.Symbol, string(r.Key.Timeframe), r.Key.Source,
			fmt.Sprint(r.Candles), r.First, r.Last, shortHash(r.Hash)})
	}
	renderTable(out, []string{"Symbol", "TF", "Source", "Candles", "First", "Last", "Hash"}, table)

	stats := svc.cache.Stats()
	fmt.Fprintf(out, "backend %s: %d hits, %d misses\n", cfg.Cache.Backend, stats.Hits, stats.Misses)
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
