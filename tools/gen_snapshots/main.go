// Command gen_snapshots writes a pair of synthetic dataset versions with a
// known amount of difference, for trying out and benchmarking tabdelta.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/TFMV/tabdelta/pkg/writers"
	"github.com/brianvoe/gofakeit/v6"
)

var statusValues = []string{"active", "inactive", "pending", "suspended", "deleted"}

// Config for the data generator
type Config struct {
	rowCount    int
	outputDir   string
	baseFile    string
	targetFile  string
	randomSeed  int64
	diffRate    float64
	addRate     float64
	removeRate  float64
	nullRate    float64
	newColumn   bool
	promoteAmts bool
}

func main() {
	config := parseFlags()

	if err := os.MkdirAll(config.outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	base, target, err := generate(config)
	if err != nil {
		log.Fatalf("Failed to generate data: %v", err)
	}

	ctx := context.Background()
	for _, out := range []struct {
		name string
		snap *snapshot.Snapshot
	}{{config.baseFile, base}, {config.targetFile, target}} {
		path := filepath.Join(config.outputDir, out.name)
		typ, err := writers.DetectType(path)
		if err != nil {
			log.Fatal(err)
		}
		if err := writers.WriteSnapshot(ctx, core.WriterConfig{Type: typ, Path: path}, out.snap); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		log.Printf("  - %s (%d rows)", path, out.snap.NumRows())
	}
}

func parseFlags() Config {
	rowCount := flag.Int("rows", 100000, "Number of rows in the base version")
	outputDir := flag.String("outdir", "test_data", "Output directory for generated files")
	baseFile := flag.String("base", "base.parquet", "Filename of the base version")
	targetFile := flag.String("target", "target.parquet", "Filename of the target version")
	seed := flag.Int64("seed", 42, "Random seed for data generation")
	diffRate := flag.Float64("diffs", 0.1, "Fraction of rows modified in the target (0.0-1.0)")
	addRate := flag.Float64("adds", 0.02, "Rows added to the target, as a fraction of the base (0.0-1.0)")
	removeRate := flag.Float64("removes", 0.02, "Fraction of base rows removed in the target (0.0-1.0)")
	nullRate := flag.Float64("nulls", 0.05, "Rate of null values (0.0-1.0)")
	newColumn := flag.Bool("new-column", true, "Add a column to the target")
	promote := flag.Bool("promote", false, "Store amounts as integers in the base and floats in the target")

	flag.Parse()

	return Config{
		rowCount:    *rowCount,
		outputDir:   *outputDir,
		baseFile:    *baseFile,
		targetFile:  *targetFile,
		randomSeed:  *seed,
		diffRate:    *diffRate,
		addRate:     *addRate,
		removeRate:  *removeRate,
		nullRate:    *nullRate,
		newColumn:   *newColumn,
		promoteAmts: *promote,
	}
}

type generator struct {
	config Config
	faker  *gofakeit.Faker
	nextID int64
}

func generate(config Config) (*snapshot.Snapshot, *snapshot.Snapshot, error) {
	g := &generator{config: config, faker: gofakeit.New(config.randomSeed), nextID: 1}

	amountType := snapshot.TypeFloat
	if config.promoteAmts {
		amountType = snapshot.TypeInt
	}
	baseSchema, err := snapshot.NewSchema(g.fields(amountType, false)...)
	if err != nil {
		return nil, nil, err
	}
	targetSchema, err := snapshot.NewSchema(g.fields(snapshot.TypeFloat, config.newColumn)...)
	if err != nil {
		return nil, nil, err
	}

	baseRows := make([][]snapshot.Value, config.rowCount)
	for i := range baseRows {
		baseRows[i] = g.row()
	}

	var targetRows [][]snapshot.Value
	for _, r := range baseRows {
		if g.faker.Float64() < config.removeRate {
			continue
		}
		row := append([]snapshot.Value(nil), r...)
		if g.faker.Float64() < config.diffRate {
			g.modify(row)
		}
		targetRows = append(targetRows, row)
	}
	for i := 0; i < int(float64(config.rowCount)*config.addRate); i++ {
		targetRows = append(targetRows, g.row())
	}

	if config.promoteAmts {
		for _, r := range baseRows {
			if !r[4].IsNull() {
				r[4] = snapshot.Int(int64(r[4].Float64()))
			}
		}
		for _, r := range targetRows {
			if !r[4].IsNull() {
				r[4] = snapshot.Float(float64(int64(r[4].Float64())))
			}
		}
	}
	if config.newColumn {
		for i, r := range targetRows {
			targetRows[i] = append(r, snapshot.String(g.faker.StateAbr()))
		}
	}

	base, err := snapshot.New(baseSchema, baseRows)
	if err != nil {
		return nil, nil, fmt.Errorf("base: %w", err)
	}
	target, err := snapshot.New(targetSchema, targetRows)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return base, target, nil
}

func (g *generator) fields(amount snapshot.Type, newColumn bool) []snapshot.Field {
	fields := []snapshot.Field{
		{Name: "id", Type: snapshot.TypeInt},
		{Name: "name", Type: snapshot.TypeString, Nullable: true},
		{Name: "email", Type: snapshot.TypeString, Nullable: true},
		{Name: "status", Type: snapshot.TypeString, Nullable: true},
		{Name: "amount", Type: amount, Nullable: true},
		{Name: "verified", Type: snapshot.TypeBool, Nullable: true},
		{Name: "updated_at", Type: snapshot.TypeTimestamp, Nullable: true},
	}
	if newColumn {
		fields = append(fields, snapshot.Field{Name: "state", Type: snapshot.TypeString, Nullable: true})
	}
	return fields
}

func (g *generator) nullable(v snapshot.Value) snapshot.Value {
	if g.faker.Float64() < g.config.nullRate {
		return snapshot.Null()
	}
	return v
}

func (g *generator) row() []snapshot.Value {
	id := g.nextID
	g.nextID++
	return []snapshot.Value{
		snapshot.Int(id),
		g.nullable(snapshot.String(g.faker.Name())),
		g.nullable(snapshot.String(g.faker.Email())),
		g.nullable(snapshot.String(g.faker.RandomString(statusValues))),
		g.nullable(snapshot.Float(float64(g.faker.Number(0, 1000000)) / 100)),
		g.nullable(snapshot.Bool(g.faker.Bool())),
		g.nullable(snapshot.Timestamp(g.faker.Date())),
	}
}

// modify changes one to three cells of row, never the id.
func (g *generator) modify(row []snapshot.Value) {
	n := g.faker.Number(1, 3)
	for i := 0; i < n; i++ {
		switch g.faker.Number(1, 6) {
		case 1:
			row[1] = snapshot.String(g.faker.Name())
		case 2:
			row[2] = snapshot.String(g.faker.Email())
		case 3:
			row[3] = snapshot.String(g.faker.RandomString(statusValues))
		case 4:
			row[4] = snapshot.Float(float64(g.faker.Number(0, 1000000)) / 100)
		case 5:
			row[5] = snapshot.Bool(g.faker.Bool())
		case 6:
			row[6] = snapshot.Timestamp(g.faker.Date())
		}
	}
}
