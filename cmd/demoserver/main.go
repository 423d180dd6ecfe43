// Command demoserver starts a simulated capability job backend.
// Usage: go run ./cmd/demoserver [addr]
// Default address: :8090
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/raysh454/capwatch/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom listen address from command line
	if len(os.Args) > 1 {
		cfg.ListenAddr = os.Args[1]
	}

	fmt.Println("===========================================")
	fmt.Println("   capwatch demo backend")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("Simulates capability jobs over the production contract:")
	fmt.Println("  POST /capability-jobs")
	fmt.Println("  GET  /capability-jobs/{id}")
	fmt.Println("  GET  /capability-jobs/{id}/findings")
	fmt.Println("  WS   /ws/capability-jobs/{id}")
	fmt.Println()
	fmt.Printf("Jobs targeting %v end in failure.\n", cfg.FailTargets)
	fmt.Println()

	server, err := demoserver.NewServer(cfg)
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := demoserver.Run(ctx, server); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
