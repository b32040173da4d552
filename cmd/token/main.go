// Command token mints a bearer token for the job API using the configured
// secret. Tokens are normally issued by the identity provider; this tool
// serves operators and local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/service/auth"
)

func main() {
	subject := flag.String("sub", "", "token subject; becomes the owner of submitted jobs")
	operator := flag.Bool("operator", false, "grant the operator role")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: token -sub <subject> [-operator]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating token service: %v\n", err)
		os.Exit(1)
	}

	role := ""
	if *operator {
		role = auth.RoleOperator
	}
	token, err := jwtService.GenerateToken(context.Background(), *subject, role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
