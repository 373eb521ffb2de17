package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"

	matchdb "github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/repositories"
	statsservice "github.com/Black-And-White-Club/race-league/app/modules/stats/application"
)

// withStats opens the database and hands a stats service to fn.
func withStats(c *cli.Context, fn func(s *statsservice.Service) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := openDB(c.Context, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(statsservice.NewService(matchdb.NewRepository(db), newLogger(cfg), otel.Tracer("race-league/stats")))
}

func standingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "standings",
		Usage: "print a season's standings, or export them with --xlsx",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "season", Required: true},
			&cli.StringFlag{Name: "xlsx", Usage: "write the standings workbook to this path"},
		},
		Action: func(c *cli.Context) error {
			return withStats(c, func(s *statsservice.Service) error {
				season := c.String("season")
				if out := c.String("xlsx"); out != "" {
					data, err := s.ExportSeasonStandings(c.Context, season)
					if err != nil {
						return err
					}
					return os.WriteFile(out, data, 0o644)
				}

				standings, err := s.Standings(c.Context, season)
				if err != nil {
					return err
				}
				for _, row := range standings {
					provisional := ""
					if row.Provisional {
						provisional = " (provisional)"
					}
					fmt.Printf("%3d  %-24s %5d  %d matches%s\n", row.Rank, row.UserID, row.DisplayRating, row.Matches, provisional)
				}
				return nil
			})
		},
	}
}

func ratingChartCommand() *cli.Command {
	return &cli.Command{
		Name:  "rating-chart",
		Usage: "render a player's season rating history as a PNG",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "season", Required: true},
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "out", Value: "rating.png"},
		},
		Action: func(c *cli.Context) error {
			return withStats(c, func(s *statsservice.Service) error {
				png, err := s.RatingHistoryChart(c.Context, c.String("user"), c.String("season"))
				if err != nil {
					return err
				}
				return os.WriteFile(c.String("out"), png, 0o644)
			})
		},
	}
}
