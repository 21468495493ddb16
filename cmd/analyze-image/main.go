package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/raine/listing-agent/config"
	"github.com/raine/listing-agent/internal/backend"
	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/llm"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <image-path> [service|gemini|both]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  LISTING_SERVICE_URL - Required for service\n")
		fmt.Fprintf(os.Stderr, "  GEMINI_API_KEY      - Required for Gemini\n")
		os.Exit(1)
	}

	imagePath := os.Args[1]
	provider := "service"
	if len(os.Args) >= 3 {
		provider = os.Args[2]
	}

	config.LoadEnvFile()

	img, err := capture.LoadImage(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Image:       %s (%s, %d bytes)\n\n", img.Name, img.MIMEType, len(img.Data))

	ctx := context.Background()

	switch provider {
	case config.BackendService:
		runService(ctx, img)
	case config.BackendGemini:
		runGemini(ctx, img)
	case "both":
		runService(ctx, img)
		fmt.Println("\n" + strings.Repeat("-", 50) + "\n")
		runGemini(ctx, img)
	default:
		fmt.Fprintf(os.Stderr, "Unknown provider: %s (use service, gemini, or both)\n", provider)
		os.Exit(1)
	}
}

func runService(ctx context.Context, img *capture.Image) {
	fmt.Println("=== LISTING SERVICE ===")

	baseURL := os.Getenv("LISTING_SERVICE_URL")
	if baseURL == "" {
		fmt.Println("LISTING_SERVICE_URL not set")
		return
	}

	client := backend.NewClient(backend.ClientOpts{BaseURL: baseURL})
	analyze(ctx, client, img)
}

func runGemini(ctx context.Context, img *capture.Image) {
	fmt.Println("=== GEMINI ===")

	client, err := llm.NewGeminiClient(ctx, llm.GeminiOpts{APIKey: os.Getenv("GEMINI_API_KEY")})
	if err != nil {
		fmt.Printf("Error creating Gemini client: %v\n", err)
		return
	}
	analyze(ctx, client, img)
}

func analyze(ctx context.Context, analyzer llm.ImageAnalyzer, img *capture.Image) {
	start := time.Now()
	text, err := analyzer.AnalyzeImage(ctx, img)
	if err != nil {
		fmt.Printf("Error analyzing image: %v\n", err)
		return
	}
	fmt.Println(text)
	fmt.Println()
	fmt.Printf("Took:        %s\n", time.Since(start).Round(time.Millisecond))
}
