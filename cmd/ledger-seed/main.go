// Command ledger-seed loads coupon campaigns from a YAML file into the
// configured ledger database. Existing campaigns and codes are skipped.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/config"
	"github.com/xlpostcards/postcard-service/internal/ledger"
	"github.com/xlpostcards/postcard-service/pkg/db"
)

func main() {
	file := flag.String("file", "", "YAML seed file with campaigns and codes")
	monthly := flag.Bool("monthly", false, "also ensure next month's promo campaign")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *file == "" && !*monthly {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = log.WithContext(ctx)
	l := ledger.New(conn)

	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatal().Err(err).Msg("open seed file")
		}
		seed, err := ledger.ParseSeed(f)
		_ = f.Close()
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("parse seed file")
		}
		res, err := l.Apply(ctx, seed)
		if err != nil {
			log.Fatal().Err(err).Msg("apply seed")
		}
		log.Info().
			Int("campaigns_created", res.CampaignsCreated).
			Int("codes_created", res.CodesCreated).
			Int("codes_skipped", res.CodesSkipped).
			Msg("seed applied")
	}

	if *monthly {
		res, err := l.EnsureMonthlyCampaign(ctx, ledger.MonthlyTerms{
			Prefix:          cfg.Promo.CodePrefix,
			MaxRedemptions:  cfg.Promo.MaxRedemptions,
			DiscountPercent: cfg.Promo.DiscountPercent,
			FirstTimeOnly:   cfg.Promo.FirstTimeOnly,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("ensure monthly campaign")
		}
		log.Info().Str("code", res.Code).Bool("created", res.Created).Time("expires_at", res.ExpiresAt).Msg("monthly campaign")
	}
}
