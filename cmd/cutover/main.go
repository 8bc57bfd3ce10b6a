// Command cutover evaluates a candidate retrieval backend against the
// human-judged truth set and reports whether it clears the quality gate.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/astroline/platform/gateway/internal/migrate"
	"github.com/astroline/platform/gateway/internal/retrieval"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("cutover evaluation failed")
	}
}

func run() error {
	ctx := context.Background()

	candidateURL := os.Getenv("CUTOVER_CANDIDATE_URL")
	if candidateURL == "" {
		return fmt.Errorf("CUTOVER_CANDIDATE_URL required")
	}
	candidate := retrieval.NewHTTPBackend(candidateURL, 10*time.Second)

	entries, err := loadTruthSet(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("truth set is empty, nothing to evaluate")
	}

	k, err := intEnv("CUTOVER_K", 5)
	if err != nil {
		return err
	}
	minAgreement, err := floatEnv("CUTOVER_MIN_AGREEMENT", 0.8)
	if err != nil {
		return err
	}
	minNDCG, err := floatEnv("CUTOVER_MIN_NDCG", 0.7)
	if err != nil {
		return err
	}

	fetch := func(ctx context.Context, query, tenant string, topK int) ([]string, error) {
		results, err := candidate.Search(ctx, query, topK, tenant)
		if err != nil {
			return nil, err
		}
		return retrieval.ResultIDs(results), nil
	}

	report, err := migrate.EvaluateFromTruth(ctx, entries, fetch, k)
	if err != nil {
		return err
	}

	log.Info().
		Int("queries", report.Queries).
		Float64("mean_agreement", report.MeanAgreement).
		Float64("mean_ndcg", report.MeanNDCG).
		Msg("cutover evaluation complete")

	pass := report.MeanAgreement >= minAgreement && report.MeanNDCG >= minNDCG
	verdict := map[string]any{
		"queries":        report.Queries,
		"mean_agreement": report.MeanAgreement,
		"mean_ndcg":      report.MeanNDCG,
		"min_agreement":  minAgreement,
		"min_ndcg":       minNDCG,
		"pass":           pass,
	}
	if err := json.NewEncoder(os.Stdout).Encode(verdict); err != nil {
		return err
	}
	if !pass {
		return fmt.Errorf("candidate backend below cutover thresholds")
	}
	return nil
}

// loadTruthSet reads judged queries from postgres, or from a JSON file when
// CUTOVER_TRUTH_FILE is set (useful for local runs without a database).
func loadTruthSet(ctx context.Context) ([]migrate.TruthEntry, error) {
	if file := os.Getenv("CUTOVER_TRUTH_FILE"); file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read truth file: %w", err)
		}
		var entries []migrate.TruthEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("parse truth file: %w", err)
		}
		return entries, nil
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("POSTGRES_DSN or CUTOVER_TRUTH_FILE required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	repo := migrate.NewTruthRepo(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo.Load(ctx, os.Getenv("CUTOVER_TENANT"))
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
