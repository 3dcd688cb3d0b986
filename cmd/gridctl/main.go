// Command gridctl inspects and reconfigures a running gridd.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/banshee-data/gridctl/internal/httputil"
)

var (
	addr    = flag.String("addr", "http://localhost:8080", "Base URL of the gridd HTTP API")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

func main() {
	flag.Usage = func() {
		printHelp(os.Stderr)
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := httputil.NewClient(*addr, &http.Client{Timeout: *timeout})
	if err := run(ctx, c, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gridctl: %v\n", err)
		os.Exit(1)
	}
}
