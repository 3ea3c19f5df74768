// Command seed fills a development database with demo users, lost and found
// items and discussions.
package main

import (
	"context"
	"errors"
	"flag"
	"log"

	"tracehub/internal/config"
	"tracehub/internal/database"
	"tracehub/internal/seed"
)

func main() {
	var opts seed.Options
	flag.IntVar(&opts.Users, "users", 20, "accounts to create")
	flag.IntVar(&opts.Items, "items", 60, "items to post")
	flag.IntVar(&opts.MessagesPerItem, "messages", 6, "upper bound on messages per item")
	flag.Int64Var(&opts.Seed, "seed", 0, "random seed; 0 picks one")
	keep := flag.Bool("keep", false, "append to existing data instead of clearing it")
	flag.Parse()

	if err := run(opts, !*keep); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("seed: done; every account's password is %q", seed.DefaultPassword)
}

func run(opts seed.Options, wipe bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.IsProduction() {
		return errors.New("refusing to touch a production database")
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	opts.Domain = cfg.InstitutionDomain

	s := seed.NewSeeder(db, opts)
	if wipe {
		if err := s.ClearAll(); err != nil {
			return err
		}
	}
	users, items, err := s.Run(context.Background())
	if err != nil {
		return err
	}
	log.Printf("seed: %d users, %d items in %s", len(users), len(items), cfg.DBDriver)
	return nil
}
