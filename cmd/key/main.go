package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"fleet-tracker/internal/cli"
)

func main() {
	var (
		subject = flag.String("subject", "", "Token subject (viewer, feed or admin name)")
		role    = flag.String("role", "VIEWER", "Role: VIEWER | PUBLISHER | ADMIN")
		secret  = flag.String("secret", "", "JWT HMAC secret (HS256)")
		ttl     = flag.Duration("ttl", 2*time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *subject == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: key --subject=<name> --role=VIEWER --secret='<secret>' [--ttl=2h]")
		os.Exit(2)
	}

	token, claims, err := cli.GenerateToken(*secret, *subject, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cli.PrintToken(token, claims)
}
