package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/raine/listing-agent/config"
	"github.com/raine/listing-agent/internal/storage"
)

func main() {
	var id string
	var limit int
	var withTranscript bool

	flag.StringVar(&id, "id", "", "Listing ID to show in full")
	flag.IntVar(&limit, "n", 20, "Number of recent listings to list")
	flag.BoolVar(&withTranscript, "transcript", false, "Include decrypted transcripts")
	flag.Parse()

	config.LoadEnvFile()

	storeKey := os.Getenv("LISTING_STORE_KEY")
	if storeKey == "" {
		fmt.Fprintf(os.Stderr, "LISTING_STORE_KEY not set\n")
		os.Exit(1)
	}

	encryptionKey, err := storage.DeriveKey(storeKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error deriving encryption key: %v\n", err)
		os.Exit(1)
	}

	dbPath := os.Getenv("LISTING_DB_PATH")
	if dbPath == "" {
		dbPath = "listings.db"
	}

	store, err := storage.NewSQLiteStore(dbPath, encryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database at %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	if id != "" {
		rec, err := store.GetListing(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching listing: %v\n", err)
			os.Exit(1)
		}
		if rec == nil {
			fmt.Fprintf(os.Stderr, "Listing %s not found\n", id)
			os.Exit(1)
		}
		if !withTranscript {
			rec.Transcript = ""
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))
		return
	}

	listings, err := store.RecentListings(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing listings: %v\n", err)
		os.Exit(1)
	}
	if len(listings) == 0 {
		fmt.Println("No listings found")
		return
	}

	for _, l := range listings {
		fmt.Printf("%s  %s  £%.2f  %-12s  %s\n", l.CreatedAt.Format("2006-01-02 15:04"), l.ID, l.Price, l.Category, l.Title)
		if withTranscript && l.Transcript != "" {
			fmt.Println(l.Transcript)
			fmt.Println()
		}
	}
}
