// payment-reconcile sweeps orders whose push-payment callback never arrived
// and resolves them by querying the gateway directly. Run it on a schedule
// (Cloud Scheduler / cron); resolving twice is safe, the reconciler is
// idempotent.
//
// Usage:
//   DB_USER=... MPESA_CONSUMER_KEY=... go run ./cmd/payment-reconcile --min-age=3m
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/dukalink/shop_backend/config"
	"bitbucket.org/dukalink/shop_backend/mpesa"
	"bitbucket.org/dukalink/shop_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	minAge := flag.Duration("min-age", 3*time.Minute, "Only sweep attempts older than this; younger callbacks may still arrive")
	limit := flag.Int("limit", 100, "Max orders per sweep")
	dryRun := flag.Bool("dry-run", false, "List stale attempts without querying or resolving")
	flag.Parse()

	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	store := workflow.NewGormStore(db)
	reconciler := workflow.NewReconciler(store, logger, config.GetRedisLock())
	client := mpesa.NewClient(config.LoadMpesa(), logger)
	if !client.Configured() {
		fmt.Fprintln(os.Stderr, "gateway credentials missing; cannot query attempt status")
		os.Exit(1)
	}

	ctx := context.Background()
	cutoff := time.Now().Add(-*minAge)
	orders, err := store.StalePendingOrders(ctx, cutoff, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list stale attempts: %v\n", err)
		os.Exit(1)
	}
	if len(orders) == 0 {
		fmt.Println("no stale payment attempts")
		return
	}

	if *dryRun {
		for _, o := range orders {
			fmt.Printf("order=%d checkout_request_id=%s updated_at=%s\n",
				o.ID, o.CheckoutRequestId, o.UpdatedAt.Format(time.RFC3339))
		}
		return
	}

	var resolved, failed int
	for _, o := range orders {
		result, err := client.QuerySTKStatus(ctx, o.CheckoutRequestId)
		if err != nil {
			failed++
			logger.WithFields(logrus.Fields{
				"module":              "payment-reconcile",
				"order_id":            o.ID,
				"checkout_request_id": o.CheckoutRequestId,
			}).Warn("status query failed: " + err.Error())
			continue
		}
		if err := reconciler.ApplyQueryResult(ctx, result, o.CheckoutRequestId); err != nil {
			failed++
			logger.WithFields(logrus.Fields{
				"module":              "payment-reconcile",
				"order_id":            o.ID,
				"checkout_request_id": o.CheckoutRequestId,
			}).Error("reconcile failed: " + err.Error())
			continue
		}
		resolved++
	}

	fmt.Printf("swept %d stale attempts: resolved=%d failed=%d\n", len(orders), resolved, failed)
}
