// Command migrate manages the board's schema. Servers in production never
// migrate on boot, so deploys run `migrate up` first.
//
//	migrate up       create or update tables and indexes
//	migrate status   list tables and whether they exist
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"tracehub/internal/config"
	"tracehub/internal/database"

	"gorm.io/gorm"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate <up|status>")
	}
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd != "up" && cmd != "status" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("connect %s database: %v", cfg.DBDriver, err)
	}

	if cmd == "up" {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Printf("schema up to date (%d tables)", len(database.PersistentModels()))
		return
	}

	missing, err := status(db)
	if err != nil {
		log.Fatal(err)
	}
	if missing > 0 {
		os.Exit(1)
	}
}

// status prints one line per model and returns how many tables are missing.
func status(db *gorm.DB) (int, error) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tPRESENT")

	missing := 0
	for _, m := range database.PersistentModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return 0, fmt.Errorf("parse %T: %w", m, err)
		}
		present := db.Migrator().HasTable(m)
		if !present {
			missing++
		}
		fmt.Fprintf(tw, "%s\t%t\n", stmt.Schema.Table, present)
	}
	return missing, tw.Flush()
}
