// Package safety decides whether a shell command proposed by the model may run.
package safety

import (
	"strconv"
	"strings"
)

// BlockedCommands is the blocklist consulted by the substring guard. A command
// is harmful when any entry appears anywhere in it. Matching is case-sensitive
// and ignores word boundaries, so short entries such as "mv", "dd" or "echo"
// also match inside unrelated words.
var BlockedCommands = []string{
	// File removal
	"rm", "rm -rf", "rm -r", "rm --recursive", "rm --force", "rm -d", "rmdir", "rmdir --ignore-fail-on-non-empty",
	"unlink", "shred", "wipe",
	// Filesystem formatting
	"mkfs", "mkfs.ext4", "mkfs.btrfs", "mkfs.xfs", "mkfs.vfat",
	"dd", "dd if=", "dd of=",
	// Fork bomb
	":(){ :|:& };:",
	// Permissions and ownership
	"chmod", "chmod 777", "chmod -R", "chmod --recursive", "chmod --mode=777",
	"chown", "chown -R", "chown --recursive",
	// Power control
	"shutdown", "shutdown -h", "shutdown --halt", "shutdown -r", "shutdown --reboot", "reboot", "poweroff", "init 0", "init 6",
	// Process killing
	"kill -9", "killall", "kill --signal 9", "pkill",
	// Network fetchers and listeners
	"wget", "curl", "nc -l", "nc --listen", "netcat -l",
	// Pipe to shell
	"| sh", "| bash", "| /bin/sh", "| /bin/bash", "| ksh", "| zsh", "| csh",
	// Redirection
	">", ">>", "1>", "2>", "&>", ">|", "2>&1",
	// Firewall
	"iptables -F", "iptables --flush", "ufw reset", "firewalld --reload",
	// Devices
	"/dev/null", "/dev/zero", "/dev/random", "/dev/sda", "/dev/sdb", "/dev/nvme",
	// Account databases
	"/etc/passwd", "/etc/shadow", "/etc/group", "/etc/gshadow",
	// Cron
	"crontab -r", "crontab --remove", "crontab -d", "crontab --delete",
	// Services
	"systemctl stop", "systemctl disable", "systemctl mask",
	// Writes through echo/cat
	"echo", "echo >", "echo >>", ": >", "cat >", "cat >>",
	// Command substitution
	"`rm -rf`", "$(rm -rf)", "`mkfs`", "$(mkfs)",
	// Network configuration
	"ifconfig", "route", "ip link set", "ip link delete",
	// Mounts
	"mount", "umount", "mount -o remount,rw", "mount -o remount,ro",
	// Moves and copies
	"mv", "mv -f", "mv -i", "mv --force", "mv --interactive", "rsync", "cp -r", "cp --recursive",
	"mv /", "mv /*", "mv /etc", "mv /home", "mv /usr", "mv /bin", "mv /sbin", "mv /var", "mv /lib", "mv /opt",
}

// Guard classifies commands. Implementations must be pure: the same command
// always yields the same answer for a given guard value.
type Guard interface {
	IsHarmful(command string) bool
}

// Decision explains a classification.
type Decision struct {
	Blocked bool   `json:"blocked"`
	Rule    string `json:"rule,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Explainer is implemented by guards that can name the rule that matched.
type Explainer interface {
	Explain(command string) Decision
}

// SubstringGuard flags a command when any pattern is a substring of it.
type SubstringGuard struct {
	Patterns []string
}

// NewDefaultGuard returns a substring guard over BlockedCommands.
func NewDefaultGuard() *SubstringGuard {
	return NewSubstringGuard(nil)
}

// NewSubstringGuard returns a substring guard over BlockedCommands plus extra.
// Empty extra patterns are dropped since they would match every command.
func NewSubstringGuard(extra []string) *SubstringGuard {
	patterns := make([]string, 0, len(BlockedCommands)+len(extra))
	patterns = append(patterns, BlockedCommands...)
	for _, p := range extra {
		if p == "" {
			continue
		}
		patterns = append(patterns, p)
	}
	return &SubstringGuard{Patterns: patterns}
}

// IsHarmful implements Guard.
func (g *SubstringGuard) IsHarmful(command string) bool {
	return g.Explain(command).Blocked
}

// Explain reports the first pattern found in command.
func (g *SubstringGuard) Explain(command string) Decision {
	for _, pattern := range g.Patterns {
		if strings.Contains(command, pattern) {
			return Decision{
				Blocked: true,
				Rule:    pattern,
				Reason:  "contains blocked pattern " + strconv.Quote(pattern),
			}
		}
	}
	return Decision{}
}

// IsCommandHarmful checks command against BlockedCommands.
func IsCommandHarmful(command string) bool {
	for _, pattern := range BlockedCommands {
		if strings.Contains(command, pattern) {
			return true
		}
	}
	return false
}

// Explain classifies command with g, filling in a rule name when g supports it.
func Explain(g Guard, command string) Decision {
	if e, ok := g.(Explainer); ok {
		return e.Explain(command)
	}
	if g.IsHarmful(command) {
		return Decision{Blocked: true, Reason: "blocked by policy"}
	}
	return Decision{}
}
