package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"medgate/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	fmt.Printf("[%s] [INFO] starting medgate...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), *configPath); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "medgate failed: %v\n", err)
		os.Exit(1)
	}
}
