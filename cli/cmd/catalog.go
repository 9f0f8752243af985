package cmd

import (
	"fmt"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/inealey/cinema-transfer/catalog"
	"github.com/inealey/cinema-transfer/cli/render"
)

// CatalogResponse is the response for the catalog command.
type CatalogResponse struct {
	Output    string `json:"output" yaml:"output"`
	Manifest  string `json:"manifest" yaml:"manifest"`
	Rows      int    `json:"rows" yaml:"rows"`
	Written   bool   `json:"written" yaml:"written"`
	Timesteps int    `json:"timesteps" yaml:"timesteps"`
	Phi       int    `json:"phi" yaml:"phi"`
	Theta     int    `json:"theta" yaml:"theta"`
}

// CatalogCommand returns the catalog command.
// It writes the manifest without starting a collector; an existing
// manifest is left untouched.
func CatalogCommand() *cli.Command {
	return &cli.Command{
		Name:   "catalog",
		Usage:  "Write the data.csv manifest for an output location",
		Flags:  slices.Concat([]cli.Flag{ConfigFlag}, storageFlags(), resolutionFlags(), ReadOnlyFlags()),
		Action: catalogAction,
	}
}

func catalogAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	res := resolveResolution(c, cfg)
	if err := res.Validate(); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	storage := resolveStorage(c, cfg)
	if err := validateStorage(storage); err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	sink, err := buildSink(c.Context, storage)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open output: %v", err), exitFailure)
	}
	written, err := catalog.Ensure(c.Context, sink, res)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to write manifest: %v", err), exitFailure)
	}

	return r.Render(CatalogResponse{
		Output:    sink.Location(),
		Manifest:  catalog.ManifestName,
		Rows:      res.Len(),
		Written:   written,
		Timesteps: res.Timesteps,
		Phi:       res.Phi,
		Theta:     res.Theta,
	})
}
