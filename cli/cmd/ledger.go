package cmd

import (
	"fmt"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/inealey/cinema-transfer/cli/config"
	"github.com/inealey/cinema-transfer/cli/render"
	"github.com/inealey/cinema-transfer/ledger"
)

// DatasetProgress summarizes one dataset's ledger records.
type DatasetProgress struct {
	Dataset   string `json:"dataset" yaml:"dataset"`
	Delivered int    `json:"delivered" yaml:"delivered"`
	Resume    uint64 `json:"resume" yaml:"resume"`
}

// LedgerCommand returns the ledger command.
// It is read-only: it never appends to or repairs the ledger.
func LedgerCommand() *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Show delivered timesteps and resume points",
		Flags: slices.Concat([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "ledger",
				Usage: "Ledger file",
				Value: defaultLedger,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Only show this dataset",
			},
			&cli.BoolFlag{
				Name:  "records",
				Usage: "List individual records instead of per-dataset progress",
			},
		}, ReadOnlyFlags()),
		Action: ledgerAction,
	}
}

func ledgerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	led, err := ledger.Open(resolveString(c, "ledger",
		configVal(cfg, func(c *config.Config) string { return c.Producer.Ledger })))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open ledger: %v", err), exitConfigError)
	}
	records, err := led.Records()
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read ledger: %v", err), exitFailure)
	}

	name := c.String("name")
	if name != "" {
		records = slices.DeleteFunc(records, func(rec ledger.Record) bool {
			return rec.Dataset != name
		})
	}

	if c.Bool("records") {
		if records == nil {
			records = []ledger.Record{}
		}
		return r.Render(records)
	}

	progress := summarize(records)
	if name != "" && len(progress) == 0 {
		progress = []DatasetProgress{{Dataset: name}}
	}
	return r.Render(progress)
}

// summarize groups records by dataset, in order of first appearance.
func summarize(records []ledger.Record) []DatasetProgress {
	progress := []DatasetProgress{}
	index := make(map[string]int)
	for _, rec := range records {
		i, ok := index[rec.Dataset]
		if !ok {
			i = len(progress)
			index[rec.Dataset] = i
			progress = append(progress, DatasetProgress{Dataset: rec.Dataset})
		}
		progress[i].Delivered++
	}
	for i := range progress {
		progress[i].Resume = ledger.NextTimestep(records, progress[i].Dataset)
	}
	return progress
}
