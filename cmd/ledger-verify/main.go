// ledger-verify recomputes the audit hash chain for one or more envelopes
// and reports the first tampered sequence, if any. Exit code is non-zero
// when any chain fails so it can run from cron or CI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"signet/internal/audit"
	"signet/internal/platform/database"
	id "signet/pkg/domain"
)

func main() {
	databaseURL := flag.String("database-url", os.Getenv("SIGNET_DATABASE_URL"), "postgres connection string")
	timeout := flag.Duration("timeout", 30*time.Second, "per-envelope verification timeout")
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "a database URL is required (flag -database-url or SIGNET_DATABASE_URL)")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ledger-verify [flags] <envelope-id> [<envelope-id> ...]")
		os.Exit(2)
	}

	dbCfg := database.DefaultConfig()
	dbCfg.URL = *databaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = pool.Close()
	}()

	ledger := audit.NewLedger(audit.NewPostgres(pool.DB()))

	failed := 0
	for _, arg := range flag.Args() {
		envelopeID, err := id.ParseEnvelopeID(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: invalid envelope ID\n", arg)
			failed++
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		valid, firstBad, err := ledger.Verify(ctx, envelopeID)
		cancel()

		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "%s: verification error: %v\n", arg, err)
			failed++
		case !valid:
			fmt.Printf("%s: TAMPERED at sequence %d\n", arg, firstBad)
			failed++
		default:
			fmt.Printf("%s: ok\n", arg)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
