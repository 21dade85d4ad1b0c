// Command main runs the demo campaign seeder.
package main

import (
	"context"
	"flag"
	"log"

	"crowdledger/internal/bootstrap"
	"crowdledger/internal/config"
	"crowdledger/internal/database"
	"crowdledger/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()

	// Parse command line flags
	numCampaigns := flag.Int("campaigns", defaults.NumCampaigns, "Number of campaigns to create")
	numUsers := flag.Int("users", defaults.NumUsers, "Number of supporters acting on campaigns")
	maxDonations := flag.Int("donations", defaults.MaxDonations, "Maximum donation attempts per campaign")
	randSeed := flag.Int64("seed", 0, "Random seed for reproducible data (0 picks one)")
	shouldClean := flag.Bool("clean", true, "Clean campaign data before seeding")
	flag.Parse()

	log.Println("🌱 Campaign Seeder")
	log.Println("==================")
	log.Printf("Target: %d campaigns, %d users, clean=%v\n", *numCampaigns, *numUsers, *shouldClean)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	db, _, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer database.Close()

	opts := defaults
	opts.NumCampaigns = *numCampaigns
	opts.NumUsers = *numUsers
	opts.MaxDonations = *maxDonations
	opts.RandSeed = *randSeed
	if cats := cfg.Categories(); len(cats) > 0 {
		opts.Categories = cats
	}

	s := seed.NewSeeder(db, opts)
	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	if _, err := s.Seed(ctx); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Your ledger is now populated with demo campaigns.")
}
