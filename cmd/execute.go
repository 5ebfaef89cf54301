// Package cmd contains the sage command-line interface.
package cmd

import (
	"fmt"
	"os"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Execute is the entry point called from main. It routes to the
// requested subcommand; main.go stays a minimal shim.
func Execute() error {
	if len(os.Args) < 2 {
		printHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ingest":
		return runIngest(os.Args[2:])
	case "query":
		return runQuery(os.Args[2:])
	case "version", "--version", "-v":
		printVersion()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

func printVersion() {
	fmt.Printf("sage v%s\n", Version)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("sage - retrieval-augmented multi-provider chat service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sage serve                Start the HTTP API server")
	fmt.Println("  sage ingest <path>...     Index files or directories")
	fmt.Println("  sage query <text>         Search the index and print matches")
	fmt.Println("  sage version              Show version information")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       Gemini credential")
	fmt.Println("  OPENAI_API_KEY       OpenAI credential")
	fmt.Println("  DATABASE_URL         PostgreSQL URL for chat history (optional)")
	fmt.Println("  SAGE_SEARXNG_URL     SearXNG instance for web search (optional)")
	fmt.Println()
	fmt.Println("Configuration file: ~/.sage/config.yaml")
}
