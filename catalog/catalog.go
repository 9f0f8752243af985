// Package catalog generates the data.csv manifest describing the frames a
// render extract is expected to produce.
package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
)

// ManifestName is the manifest file name inside an output location.
const ManifestName = "data.csv"

// Header is the manifest's header row.
var Header = []string{"time", "phi", "theta", "FILE"}

// ErrManifestExists reports that a manifest was already present. Ensure
// treats it as a successful no-op and never returns it.
var ErrManifestExists = errors.New("manifest already exists")

// Resolution is the timestep count and the two angular resolutions.
type Resolution struct {
	Timesteps int `yaml:"timesteps" json:"timesteps"`
	Phi       int `yaml:"phi" json:"phi"`
	Theta     int `yaml:"theta" json:"theta"`
}

// Validate checks that every dimension is positive.
func (r Resolution) Validate() error {
	if r.Timesteps <= 0 || r.Phi <= 0 || r.Theta <= 0 {
		return fmt.Errorf("resolution must be positive, got timesteps=%d phi=%d theta=%d",
			r.Timesteps, r.Phi, r.Theta)
	}
	return nil
}

// Len returns the number of rows the manifest will contain.
func (r Resolution) Len() int {
	return r.Timesteps * r.Phi * r.Theta
}

// Row is one manifest entry.
type Row struct {
	Timestep int
	Phi      float64
	Theta    float64
}

// FileName returns the frame file name for the row.
func (r Row) FileName() string {
	return fmt.Sprintf("RenderView1_%06dp=%06.2ft=%06.2f.png", r.Timestep, r.Phi, r.Theta)
}

// Record returns the row's CSV fields.
func (r Row) Record() []string {
	return []string{
		strconv.FormatFloat(float64(r.Timestep), 'f', 1, 64),
		strconv.FormatFloat(r.Phi, 'f', 2, 64),
		strconv.FormatFloat(r.Theta, 'f', 2, 64),
		r.FileName(),
	}
}

// Rows returns every (timestep, phi, theta) combination in timestep-major
// order. Angle = index * (360 / resolution).
func Rows(res Resolution) []Row {
	phiStep := 360 / float64(res.Phi)
	thetaStep := 360 / float64(res.Theta)

	rows := make([]Row, 0, max(res.Len(), 0))
	for t := range res.Timesteps {
		for p := range res.Phi {
			for th := range res.Theta {
				rows = append(rows, Row{
					Timestep: t,
					Phi:      float64(p) * phiStep,
					Theta:    float64(th) * thetaStep,
				})
			}
		}
	}
	return rows
}

// Render encodes the manifest for res.
func Render(res Resolution) ([]byte, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, row := range Rows(res) {
		if err := w.Write(row.Record()); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Target stores the manifest. output.Dir and output.Store implement it.
type Target interface {
	PutIfAbsent(ctx context.Context, name string, data []byte) (bool, error)
}

// Ensure writes the manifest for res to target unless one already exists.
// It returns created=false with a nil error when a manifest was present,
// regardless of the resolution it was generated with.
func Ensure(ctx context.Context, target Target, res Resolution) (bool, error) {
	err := Write(ctx, target, res)
	switch {
	case errors.Is(err, ErrManifestExists):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Write stores the manifest for res, or returns ErrManifestExists if the
// target already holds one.
func Write(ctx context.Context, target Target, res Resolution) error {
	data, err := Render(res)
	if err != nil {
		return err
	}
	created, err := target.PutIfAbsent(ctx, ManifestName, data)
	if err != nil {
		return fmt.Errorf("write %s: %w", ManifestName, err)
	}
	if !created {
		return ErrManifestExists
	}
	return nil
}
