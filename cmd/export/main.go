package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/jengzang/hexmap-backend-go/internal/database"
	"github.com/jengzang/hexmap-backend-go/internal/dataset"
	"github.com/jengzang/hexmap-backend-go/internal/models"
	"github.com/jengzang/hexmap-backend-go/internal/repository"
)

func main() {
	_ = godotenv.Load()
	log.SetHandler(text.New(os.Stderr))

	app := &cli.App{
		Name:  "export",
		Usage: "write a gzipped probability payload for the map",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", Usage: "Postgres connection string", EnvVars: []string{"DATABASE_URL"}},
			&cli.StringFlag{Name: "query", Usage: "row query returning h3, probability", Value: "SELECT h3::text AS h3, probability::float AS probability FROM prediction"},
			&cli.StringFlag{Name: "time-query", Usage: "query returning the latest weather timestamp", Value: "SELECT max(weather_datetime)::text FROM prediction"},
			&cli.StringFlag{Name: "sqlite", Usage: "read a stored layer from this sqlite file instead of Postgres"},
			&cli.StringFlag{Name: "layer", Usage: "layer to read with --sqlite", Value: "risk"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file", Value: "h3_payload.json.gz"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("export failed")
	}
}

func run(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	var (
		records   []models.RawRecord
		updatedAt string
		err       error
	)
	switch {
	case c.String("sqlite") != "":
		records, updatedAt, err = fromSQLite(c.String("sqlite"), c.String("layer"))
	case c.String("dsn") != "":
		records, updatedAt, err = fromPostgres(ctx, c.String("dsn"), c.String("query"), c.String("time-query"))
	default:
		return cli.Exit("set DATABASE_URL (or --dsn) or --sqlite", 2)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return cli.Exit("no rows returned, check the query", 1)
	}

	out := c.String("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	n, err := dataset.Encode(f, records, updatedAt)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"file": out, "rows": n, "updated_at": updatedAt}).Info("wrote payload")
	return nil
}

func fromPostgres(ctx context.Context, dsn, query, timeQuery string) ([]models.RawRecord, string, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query rows: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RawRecord, error) {
		var rec models.RawRecord
		var p *float64
		if err := row.Scan(&rec.CellID, &p); err != nil {
			return rec, err
		}
		rec.Value = math.NaN()
		if p != nil {
			rec.Value = *p
		}
		return rec, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to read rows: %w", err)
	}

	if timeQuery == "" {
		return records, "", nil
	}
	var updated *string
	if err := conn.QueryRow(ctx, timeQuery).Scan(&updated); err != nil {
		// The payload stays valid without a timestamp.
		log.WithError(err).Warn("latest weather timestamp unavailable")
		return records, "", nil
	}
	if updated == nil {
		return records, "", nil
	}
	return records, *updated, nil
}

func fromSQLite(path, layer string) ([]models.RawRecord, string, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer db.Close()

	repo := repository.NewCellRepository(db)
	records, err := repo.GetLayerRecords(layer)
	if err != nil {
		return nil, "", err
	}
	imp, err := repo.GetImport(layer)
	switch {
	case errors.Is(err, repository.ErrNoImport), errors.Is(err, sql.ErrNoRows):
		return records, "", nil
	case err != nil:
		return nil, "", err
	}
	return records, imp.UpdatedAt, nil
}
