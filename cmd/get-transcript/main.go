package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/raine/listing-agent/config"
	"github.com/raine/listing-agent/internal/backend"
	"github.com/raine/listing-agent/internal/listing"
)

func main() {
	var conversationID string

	flag.StringVar(&conversationID, "id", "", "Conversation ID to fetch")
	flag.Parse()

	// Accept conversation ID as positional argument
	if conversationID == "" && flag.NArg() > 0 {
		conversationID = flag.Arg(0)
	}

	if conversationID == "" {
		fmt.Fprintf(os.Stderr, "Usage: get-transcript -id <conversation_id>\n")
		fmt.Fprintf(os.Stderr, "       get-transcript <conversation_id>\n")
		os.Exit(1)
	}

	config.LoadEnvFile()

	baseURL := os.Getenv("LISTING_SERVICE_URL")
	if baseURL == "" {
		fmt.Fprintf(os.Stderr, "LISTING_SERVICE_URL not set\n")
		os.Exit(1)
	}

	client := backend.NewClient(backend.ClientOpts{BaseURL: baseURL})
	transcript, err := client.FetchTranscript(context.Background(), conversationID)
	if listing.IsNotFound(err) {
		fmt.Fprintf(os.Stderr, "Transcript not found for %s\n", conversationID)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching transcript: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(transcript)
}
