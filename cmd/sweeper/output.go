package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/labsweep/internal/chart"
	"github.com/banshee-data/labsweep/internal/dataset"
	"github.com/banshee-data/labsweep/internal/db"
	"github.com/banshee-data/labsweep/internal/sweep"
)

type outputs struct {
	csv  string
	png  string
	html string
}

func (o outputs) empty() bool { return o.csv == "" && o.png == "" && o.html == "" }

// finishedRecord reads the engine's dataset back from whichever vault
// stored it.
func finishedRecord(e *sweep.Engine, vault *db.DB, memory *dataset.MemoryVault) (dataset.Record, error) {
	d := e.Dataset()
	if d == nil || !d.Created() {
		return dataset.Record{}, fmt.Errorf("sweep has no stored dataset")
	}
	if vault != nil {
		return vault.Dataset(d.ID())
	}
	if memory != nil {
		if rec, ok := memory.Dataset(d.ID()); ok {
			return rec, nil
		}
	}
	return dataset.Record{}, fmt.Errorf("dataset %s not found", d.ID())
}

// writeOutputs exports the finished dataset as CSV and charts. Every
// requested output is attempted; failures are joined.
func writeOutputs(e *sweep.Engine, vault *db.DB, memory *dataset.MemoryVault, out outputs) error {
	if out.empty() {
		return nil
	}
	rec, err := finishedRecord(e, vault, memory)
	if err != nil {
		return err
	}

	var errs []error
	if out.csv != "" {
		if err := writeCSV(out.csv, rec); err != nil {
			errs = append(errs, err)
		} else {
			log.Printf("wrote %s", out.csv)
		}
	}
	if out.png == "" && out.html == "" {
		return errors.Join(errs...)
	}

	series, labels, err := recordSeries(rec, len(e.Axes()))
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if out.png != "" {
		if err := chart.SavePNG(out.png, labels, series); err != nil {
			errs = append(errs, err)
		} else {
			log.Printf("wrote %s", out.png)
		}
	}
	if out.html != "" {
		if err := writeHTML(out.html, rec, labels, series); err != nil {
			errs = append(errs, err)
		} else {
			log.Printf("wrote %s", out.html)
		}
	}
	return errors.Join(errs...)
}

func writeCSV(path string, rec dataset.Record) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := dataset.WriteRecord(f, rec); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func writeHTML(path string, rec dataset.Record, labels chart.Labels, series []chart.Series) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := chart.RenderLinesHTML(f, labels, strings.Join(rec.Location, "/"), series); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// recordSeries plots every recorded column against the first swept
// value, one curve per outer grid index for multi-axis sweeps.
func recordSeries(rec dataset.Record, nAxes int) ([]chart.Series, chart.Labels, error) {
	header := append(append([]string(nil), rec.Independents...), rec.Dependents...)
	x, y, split := chart.DefaultColumns(nAxes, len(rec.Independents), len(header))
	series, err := chart.Lines(header, rec.Rows, x, y, split)
	if err != nil {
		return nil, chart.Labels{}, err
	}
	labels := chart.Labels{Title: rec.Name, X: header[x]}
	if len(y) == 1 {
		labels.Y = header[y[0]]
	}
	return series, labels, nil
}
