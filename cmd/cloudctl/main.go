// cloudctl is a small operator tool for a cloudcore store: check status,
// create accounts, issue sessions, and run a session sweep by hand.
//
// Usage:
//
//	cloudctl [flags] status
//	cloudctl [flags] create-user <email> <display-name>
//	cloudctl [flags] issue-session <email>
//	cloudctl [flags] resolve <token>
//	cloudctl [flags] sweep
//
// Credentials come from AR_STORE_DSN / AR_SECRET_KEY, the -c/-config JSON
// file, or the -d/-s flags.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/archeonlabs/cloudcore"
)

func main() {
	ctx := context.Background()

	cfg, err := cloudcore.LoadConfig(cloudcore.EnvSource{})
	if err != nil {
		log.Fatalf("%v", err)
	}

	cmd, args := command()
	if cmd == "" {
		usage()
		os.Exit(2)
	}

	m, err := cloudcore.New(cfg, cloudcore.NewLogger(os.Stderr))
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer m.Close()

	if err := run(ctx, m, cmd, args); err != nil {
		log.Fatalf("%v", err)
	}
}

// command returns the first non-flag argument and everything after it.
func command() (string, []string) {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			// skip the flag's value when given separately
			if !strings.Contains(args[i], "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
			}
			continue
		}
		return args[i], args[i+1:]
	}
	return "", nil
}

func run(ctx context.Context, m *cloudcore.Manager, cmd string, args []string) error {
	switch cmd {
	case "status":
		st := m.GetStatus()
		fmt.Printf("store ready: %v\n", st.StoreReady)
		for category, n := range st.CacheSizes {
			fmt.Printf("cache %s: %d users\n", category, n)
		}
		return nil

	case "create-user":
		if len(args) < 2 {
			return fmt.Errorf("usage: cloudctl create-user <email> <display-name>")
		}
		fmt.Println("-Enter password")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return err
		}
		if err := m.CreateUser(ctx, args[0], args[1], string(password)); err != nil {
			return err
		}
		fmt.Println("user created")
		return nil

	case "issue-session":
		if len(args) < 1 {
			return fmt.Errorf("usage: cloudctl issue-session <email>")
		}
		fmt.Println(m.IssueSession(ctx, args[0]))
		return nil

	case "resolve":
		if len(args) < 1 {
			return fmt.Errorf("usage: cloudctl resolve <token>")
		}
		id, err := m.ResolveIdentity(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil

	case "sweep":
		removed, err := m.SweepSessions(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired sessions\n", removed)
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "commands: status, create-user, issue-session, resolve, sweep")
}
