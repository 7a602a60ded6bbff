package safety

import (
	"fmt"
	"path"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// RuleKind selects how a Rule is matched against a parsed command.
type RuleKind string

const (
	// RuleBinary matches the program name of any pipeline segment.
	RuleBinary RuleKind = "binary"
	// RuleArgs matches a program name together with required arguments.
	RuleArgs RuleKind = "args"
	// RulePath matches any argument against a glob.
	RulePath RuleKind = "path"
	// RuleRedirect matches an unquoted redirection operator.
	RuleRedirect RuleKind = "redirect"
	// RulePipe matches the program name of a segment fed by a pipe.
	RulePipe RuleKind = "pipe"
	// RuleSubstring matches raw command text, like the substring guard.
	RuleSubstring RuleKind = "substring"
)

// Rule is one typed entry of a structured policy. Match is a glob for
// binary, args, path and pipe rules, an operator glob for redirect rules and
// literal text for substring rules.
type Rule struct {
	Kind   RuleKind `yaml:"kind" json:"kind"`
	Match  string   `yaml:"match" json:"match"`
	Args   []string `yaml:"args,omitempty" json:"args,omitempty"`
	Reason string   `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Name returns a short identifier for logs and audit records.
func (r Rule) Name() string {
	if len(r.Args) > 0 {
		return fmt.Sprintf("%s:%s %s", r.Kind, r.Match, strings.Join(r.Args, " "))
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.Match)
}

// Validate reports malformed rules.
func (r Rule) Validate() error {
	switch r.Kind {
	case RuleBinary, RulePath, RuleRedirect, RulePipe, RuleSubstring:
	case RuleArgs:
		if len(r.Args) == 0 {
			return fmt.Errorf("rule %s: args rule needs at least one argument", r.Name())
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	if strings.TrimSpace(r.Match) == "" {
		return fmt.Errorf("rule %s: match is required", r.Name())
	}
	return nil
}

func (r Rule) matches(raw string, cmd parsedCommand) bool {
	switch r.Kind {
	case RuleSubstring:
		return strings.Contains(raw, r.Match)
	case RuleRedirect:
		for _, op := range cmd.redirects {
			if wildcard.Match(r.Match, op) {
				return true
			}
		}
	case RuleBinary, RulePipe, RuleArgs:
		for _, seg := range cmd.segments {
			if r.Kind == RulePipe && !seg.afterPipe {
				continue
			}
			if !wildcard.Match(r.Match, seg.program()) {
				continue
			}
			if r.Kind != RuleArgs || hasArgs(seg.args(), r.Args) {
				return true
			}
		}
	case RulePath:
		for _, seg := range cmd.segments {
			for _, arg := range seg.argv {
				if wildcard.Match(r.Match, arg) {
					return true
				}
			}
		}
	}
	return false
}

// hasArgs reports whether every wanted argument appears in args, either
// verbatim or as the key of a --flag=value token.
func hasArgs(args, wanted []string) bool {
	for _, w := range wanted {
		found := false
		for _, a := range args {
			if a == w || strings.HasPrefix(a, w+"=") {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DefaultRules covers the same categories as BlockedCommands, expressed
// against program names and arguments instead of raw text.
var DefaultRules = []Rule{
	{Kind: RuleSubstring, Match: ":(){ :|:& };:", Reason: "fork bomb"},

	{Kind: RuleBinary, Match: "rm", Reason: "removes files"},
	{Kind: RuleBinary, Match: "rmdir", Reason: "removes directories"},
	{Kind: RuleBinary, Match: "unlink", Reason: "removes files"},
	{Kind: RuleBinary, Match: "shred", Reason: "destroys file contents"},
	{Kind: RuleBinary, Match: "wipe", Reason: "destroys file contents"},
	{Kind: RuleBinary, Match: "truncate", Reason: "rewrites files"},
	{Kind: RuleBinary, Match: "tee", Reason: "writes files"},

	{Kind: RuleBinary, Match: "mkfs*", Reason: "formats filesystems"},
	{Kind: RuleBinary, Match: "dd", Reason: "raw device copy"},
	{Kind: RuleBinary, Match: "fdisk", Reason: "edits partition tables"},
	{Kind: RuleBinary, Match: "parted", Reason: "edits partition tables"},

	{Kind: RuleBinary, Match: "chmod", Reason: "changes permissions"},
	{Kind: RuleBinary, Match: "chown", Reason: "changes ownership"},
	{Kind: RuleBinary, Match: "chgrp", Reason: "changes ownership"},

	{Kind: RuleBinary, Match: "shutdown", Reason: "power control"},
	{Kind: RuleBinary, Match: "reboot", Reason: "power control"},
	{Kind: RuleBinary, Match: "poweroff", Reason: "power control"},
	{Kind: RuleBinary, Match: "halt", Reason: "power control"},
	{Kind: RuleArgs, Match: "init", Args: []string{"0"}, Reason: "power control"},
	{Kind: RuleArgs, Match: "init", Args: []string{"6"}, Reason: "power control"},

	{Kind: RuleArgs, Match: "kill", Args: []string{"-9"}, Reason: "kills processes"},
	{Kind: RuleArgs, Match: "kill", Args: []string{"-KILL"}, Reason: "kills processes"},
	{Kind: RuleArgs, Match: "kill", Args: []string{"--signal"}, Reason: "kills processes"},
	{Kind: RuleBinary, Match: "killall", Reason: "kills processes"},
	{Kind: RuleBinary, Match: "pkill", Reason: "kills processes"},

	{Kind: RuleBinary, Match: "wget", Reason: "network fetch"},
	{Kind: RuleBinary, Match: "curl", Reason: "network fetch"},
	{Kind: RuleArgs, Match: "nc", Args: []string{"-l"}, Reason: "network listener"},
	{Kind: RuleArgs, Match: "nc", Args: []string{"--listen"}, Reason: "network listener"},
	{Kind: RuleArgs, Match: "netcat", Args: []string{"-l"}, Reason: "network listener"},
	{Kind: RuleArgs, Match: "ncat", Args: []string{"-l"}, Reason: "network listener"},

	{Kind: RulePipe, Match: "sh", Reason: "pipes into a shell"},
	{Kind: RulePipe, Match: "bash", Reason: "pipes into a shell"},
	{Kind: RulePipe, Match: "dash", Reason: "pipes into a shell"},
	{Kind: RulePipe, Match: "ksh", Reason: "pipes into a shell"},
	{Kind: RulePipe, Match: "zsh", Reason: "pipes into a shell"},
	{Kind: RulePipe, Match: "csh", Reason: "pipes into a shell"},

	{Kind: RuleRedirect, Match: "*>", Reason: "writes output to a file"},
	{Kind: RuleRedirect, Match: "*>>", Reason: "appends output to a file"},
	{Kind: RuleRedirect, Match: "*>|", Reason: "overwrites a file"},

	{Kind: RuleArgs, Match: "iptables", Args: []string{"-F"}, Reason: "flushes firewall"},
	{Kind: RuleArgs, Match: "iptables", Args: []string{"--flush"}, Reason: "flushes firewall"},
	{Kind: RuleArgs, Match: "ufw", Args: []string{"reset"}, Reason: "resets firewall"},
	{Kind: RuleArgs, Match: "firewalld", Args: []string{"--reload"}, Reason: "reloads firewall"},
	{Kind: RuleArgs, Match: "firewall-cmd", Args: []string{"--reload"}, Reason: "reloads firewall"},

	{Kind: RulePath, Match: "/dev/sd*", Reason: "block device"},
	{Kind: RulePath, Match: "/dev/nvme*", Reason: "block device"},
	{Kind: RulePath, Match: "/dev/zero", Reason: "special device"},
	{Kind: RulePath, Match: "/dev/random", Reason: "special device"},
	{Kind: RulePath, Match: "/etc/passwd*", Reason: "account database"},
	{Kind: RulePath, Match: "/etc/shadow*", Reason: "account database"},
	{Kind: RulePath, Match: "/etc/group*", Reason: "account database"},
	{Kind: RulePath, Match: "/etc/gshadow*", Reason: "account database"},

	{Kind: RuleArgs, Match: "crontab", Args: []string{"-r"}, Reason: "deletes crontab"},
	{Kind: RuleArgs, Match: "crontab", Args: []string{"-d"}, Reason: "deletes crontab"},
	{Kind: RuleArgs, Match: "crontab", Args: []string{"--remove"}, Reason: "deletes crontab"},
	{Kind: RuleArgs, Match: "crontab", Args: []string{"--delete"}, Reason: "deletes crontab"},

	{Kind: RuleArgs, Match: "systemctl", Args: []string{"stop"}, Reason: "stops a service"},
	{Kind: RuleArgs, Match: "systemctl", Args: []string{"disable"}, Reason: "disables a service"},
	{Kind: RuleArgs, Match: "systemctl", Args: []string{"mask"}, Reason: "masks a service"},
	{Kind: RuleArgs, Match: "service", Args: []string{"stop"}, Reason: "stops a service"},

	{Kind: RuleBinary, Match: "ifconfig", Reason: "network configuration"},
	{Kind: RuleBinary, Match: "route", Reason: "network configuration"},
	{Kind: RuleArgs, Match: "ip", Args: []string{"link", "set"}, Reason: "network configuration"},
	{Kind: RuleArgs, Match: "ip", Args: []string{"link", "delete"}, Reason: "network configuration"},

	{Kind: RuleBinary, Match: "mount", Reason: "changes mounts"},
	{Kind: RuleBinary, Match: "umount", Reason: "changes mounts"},

	{Kind: RuleBinary, Match: "mv", Reason: "moves files"},
	{Kind: RuleBinary, Match: "rsync", Reason: "copies files"},
	{Kind: RuleArgs, Match: "cp", Args: []string{"-r"}, Reason: "recursive copy"},
	{Kind: RuleArgs, Match: "cp", Args: []string{"-R"}, Reason: "recursive copy"},
	{Kind: RuleArgs, Match: "cp", Args: []string{"--recursive"}, Reason: "recursive copy"},
}

// RuleGuard evaluates typed rules against a tokenized command. Rules are
// checked in order and the first match wins.
type RuleGuard struct {
	rules []Rule
}

// NewRuleGuard builds a guard over DefaultRules followed by extra.
func NewRuleGuard(extra []Rule) (*RuleGuard, error) {
	rules := make([]Rule, 0, len(DefaultRules)+len(extra))
	rules = append(rules, DefaultRules...)
	for _, r := range extra {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return &RuleGuard{rules: rules}, nil
}

// Rules returns a copy of the active rule list.
func (g *RuleGuard) Rules() []Rule {
	out := make([]Rule, len(g.rules))
	copy(out, g.rules)
	return out
}

// IsHarmful implements Guard.
func (g *RuleGuard) IsHarmful(command string) bool {
	return g.Explain(command).Blocked
}

// Explain reports the first rule that matches command.
func (g *RuleGuard) Explain(command string) Decision {
	cmd := parseCommand(command)
	for _, r := range g.rules {
		if r.matches(command, cmd) {
			return Decision{Blocked: true, Rule: r.Name(), Reason: r.Reason}
		}
	}
	return Decision{}
}

// parsedCommand is a rough shell tokenization: enough to find program names,
// arguments and redirections, not a faithful shell grammar.
type parsedCommand struct {
	segments  []segment
	redirects []string
}

type segment struct {
	argv      []string
	afterPipe bool
}

// wrappers run their argument as a command; the wrapped program is what the
// rules look at.
var wrappers = map[string]bool{
	"sudo": true, "doas": true, "env": true, "nohup": true, "nice": true,
	"time": true, "command": true, "exec": true, "xargs": true, "stdbuf": true,
}

// commandStart returns the index of the real program in argv, skipping
// wrappers, their flags and leading VAR=value assignments.
func (s segment) commandStart() int {
	i := 0
	for i < len(s.argv) {
		tok := s.argv[i]
		switch {
		case isAssignment(tok):
			i++
		case wrappers[path.Base(tok)]:
			i++
			for i < len(s.argv) && strings.HasPrefix(s.argv[i], "-") {
				i++
			}
		default:
			return i
		}
	}
	return i
}

func (s segment) program() string {
	i := s.commandStart()
	if i >= len(s.argv) {
		return ""
	}
	return path.Base(s.argv[i])
}

func (s segment) args() []string {
	i := s.commandStart()
	if i+1 >= len(s.argv) {
		return nil
	}
	return s.argv[i+1:]
}

func isAssignment(tok string) bool {
	eq := strings.IndexByte(tok, '=')
	if eq <= 0 {
		return false
	}
	for _, r := range tok[:eq] {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// parseCommand splits command into pipeline segments on unquoted ; & | ( ) `
// and newlines, and collects output redirection operators. Command
// substitutions become segments of their own.
func parseCommand(command string) parsedCommand {
	var (
		out       parsedCommand
		cur       segment
		word      strings.Builder
		inWord    bool
		quote     rune
		escaped   bool
		afterPipe bool
	)

	flushWord := func() {
		if inWord {
			cur.argv = append(cur.argv, word.String())
			word.Reset()
			inWord = false
		}
	}
	flushSegment := func(nextAfterPipe bool) {
		flushWord()
		if len(cur.argv) > 0 {
			cur.afterPipe = afterPipe
			out.segments = append(out.segments, cur)
		}
		cur = segment{}
		afterPipe = nextAfterPipe
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			word.WriteRune(r)
			inWord = true
			escaped = false
			continue
		}
		if quote != 0 {
			if r == quote {
				quote = 0
			} else if r == '\\' && quote == '"' {
				escaped = true
			} else {
				word.WriteRune(r)
			}
			continue
		}

		switch r {
		case '\\':
			escaped = true
		case '\'', '"':
			quote = r
			inWord = true
		case ' ', '\t':
			flushWord()
		case '\n', ';', '(', ')', '`':
			flushSegment(false)
		case '$':
			if i+1 < len(runes) && runes[i+1] == '(' {
				flushSegment(false)
				i++
				continue
			}
			word.WriteRune(r)
			inWord = true
		case '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
				flushSegment(false)
				continue
			}
			flushSegment(true)
		case '&':
			if i+1 < len(runes) && runes[i+1] == '>' {
				flushWord()
				op := "&>"
				i++
				if i+1 < len(runes) && runes[i+1] == '>' {
					op = "&>>"
					i++
				}
				out.redirects = append(out.redirects, op)
				continue
			}
			if i+1 < len(runes) && runes[i+1] == '&' {
				i++
			}
			flushSegment(false)
		case '>':
			prefix := ""
			if inWord && isDigits(word.String()) {
				prefix = word.String()
				word.Reset()
				inWord = false
			} else {
				flushWord()
			}
			op := prefix + ">"
			if i+1 < len(runes) {
				switch runes[i+1] {
				case '>', '|':
					op += string(runes[i+1])
					i++
				case '&':
					// fd duplication such as 2>&1
					j := i + 2
					for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
						j++
					}
					if j > i+2 {
						op += string(runes[i+1 : j])
						i = j - 1
					}
				}
			}
			out.redirects = append(out.redirects, op)
		default:
			word.WriteRune(r)
			inWord = true
		}
	}
	flushSegment(false)
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
