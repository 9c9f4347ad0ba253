package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codecalc/junction-engine/internal/catalog"
	"github.com/codecalc/junction-engine/internal/junction"
	"github.com/codecalc/junction-engine/internal/sheets"
	"github.com/codecalc/junction-engine/pkg/models"
)

var solveFlags struct {
	dir        string
	prefix     string
	tipo       string
	credit     float64
	commission float64
	ceiling    float64
	format     string
}

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Build junctions from a local spreadsheet directory",
	Example: `  engine solve --dir ./planilhas --type Imóvel --credit 300000 --commission 0.02
  engine solve --dir ./planilhas --type Auto --credit 80000 --format message`,
	RunE: runSolve,
}

func init() {
	f := solveCmd.Flags()
	f.StringVar(&solveFlags.dir, "dir", "", "directory holding .xlsx workbooks (defaults to SHEETS_DIR)")
	f.StringVar(&solveFlags.prefix, "prefix", "", "only read workbooks whose relative path starts with this prefix")
	f.StringVar(&solveFlags.tipo, "type", "", "certificate type, e.g. Imóvel, Auto, Serviços (empty matches all)")
	f.Float64Var(&solveFlags.credit, "credit", 0, "desired credit in BRL")
	f.Float64Var(&solveFlags.commission, "commission", 0, "consultant extra commission, e.g. 0.02 (defaults to the market rate)")
	f.Float64Var(&solveFlags.ceiling, "ceiling", 0, "max entry/credit ratio (defaults to the configured ceiling)")
	f.StringVar(&solveFlags.format, "format", "json", "output format: json or message")
	_ = solveCmd.MarkFlagRequired("credit")
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if solveFlags.format != "json" && solveFlags.format != "message" {
		return fmt.Errorf("unknown format %q", solveFlags.format)
	}
	if !(solveFlags.credit > 0) {
		return errors.New("--credit must be greater than zero")
	}
	dir := solveFlags.dir
	if dir == "" {
		dir = cfg.Sheets.Dir
	}
	if dir == "" {
		return errors.New("--dir is required when SHEETS_DIR is not set")
	}

	req := models.JunctionRequest{
		Type:          solveFlags.tipo,
		DesiredCredit: solveFlags.credit,
		Prefix:        solveFlags.prefix,
	}
	if cmd.Flags().Changed("commission") {
		req.ExtraCommission = &solveFlags.commission
	}
	if cmd.Flags().Changed("ceiling") {
		req.EntryCeiling = &solveFlags.ceiling
	}

	cat := catalog.New(sheets.DirSource{Dir: dir, Logger: logger}, solveFlags.prefix, logger)
	service := junction.NewService(junction.Deps{Certificates: cat}, junctionOptions(cfg), logger)

	resp, err := service.Create(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if solveFlags.format == "message" {
		if resp.Info != "" {
			_, err = fmt.Fprintln(out, resp.Info)
			return err
		}
		_, err = fmt.Fprintln(out, resp.Message)
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}
