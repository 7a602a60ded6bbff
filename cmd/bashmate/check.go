package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rcourtman/bashmate/internal/ai/safety"
	"github.com/rcourtman/bashmate/internal/logging"
	"github.com/spf13/cobra"
)

type checkOptions struct {
	mode   string
	policy string
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check [command]...",
		Short: "Report whether commands would be allowed to run",
		Long: `Check classifies each argument with the configured guard and prints
whether it would run. With no arguments, commands are read one per line from
stdin. The exit status is 1 when any command is blocked.`,
		Example: `  bashmate check "df -h" "rm -rf /tmp/cache"
  bashmate check --mode rules < commands.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "", "guard mode: substring or rules (default BASHMATE_GUARD_MODE)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "policy file (default BASHMATE_POLICY_FILE)")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string, opts checkOptions) error {
	cfg, err := loadConfig("check")
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	if opts.mode != "" {
		cfg.GuardMode = strings.ToLower(opts.mode)
	}
	if opts.policy != "" {
		cfg.PolicyFile = opts.policy
	}

	guard, err := buildGuard(cfg)
	if err != nil {
		return err
	}

	commands := args
	if len(commands) == 0 {
		commands, err = readCommands(cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	blocked := checkCommands(cmd.OutOrStdout(), guard, commands)
	if blocked > 0 {
		return &exitError{code: 1}
	}
	return nil
}

// checkCommands prints one verdict line per command and returns how many
// were blocked.
func checkCommands(w io.Writer, guard safety.Guard, commands []string) int {
	blocked := 0
	for _, command := range commands {
		d := safety.Explain(guard, command)
		if !d.Blocked {
			fmt.Fprintf(w, "allowed  %s\n", command)
			continue
		}
		blocked++
		detail := d.Rule
		if d.Reason != "" && d.Reason != d.Rule {
			if detail != "" {
				detail += ": "
			}
			detail += d.Reason
		}
		if detail == "" {
			fmt.Fprintf(w, "blocked  %s\n", command)
		} else {
			fmt.Fprintf(w, "blocked  %s  (%s)\n", command, detail)
		}
	}
	return blocked
}

func readCommands(r io.Reader) ([]string, error) {
	var commands []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	return commands, nil
}
