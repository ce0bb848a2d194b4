// Package filter loads the .sync_rules file into an ordered rule set
// for the transfer tool. Pattern syntax is never reinterpreted here;
// rules pass through to rclone verbatim because its first-match-wins
// and directory-pattern semantics must be preserved exactly.
package filter

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloudbuilder/internal/config"
)

// Kind distinguishes include from exclude rules.
type Kind int

const (
	Exclude Kind = iota
	Include
)

func (k Kind) String() string {
	if k == Include {
		return "include"
	}
	return "exclude"
}

// Rule is one filter line. Pattern keeps the exact text that followed
// the +/- prefix, including any trailing separator marking a directory
// pattern.
type Rule struct {
	Kind    Kind
	Pattern string
}

// Arg renders the rule in rclone --filter syntax.
func (r Rule) Arg() string {
	if r.Kind == Include {
		return "+ " + r.Pattern
	}
	return "- " + r.Pattern
}

// IsDir reports whether the pattern targets a directory (trailing
// separator convention).
func (r Rule) IsDir() bool {
	return strings.HasSuffix(r.Pattern, "/") || strings.HasSuffix(r.Pattern, "\\")
}

// RuleSet is an ordered sequence of rules. Order matters downstream:
// the transfer tool applies the first matching rule.
type RuleSet []Rule

// Args renders all rules, in order, as rclone --filter values.
func (rs RuleSet) Args() []string {
	args := make([]string, len(rs))
	for i, r := range rs {
		args[i] = r.Arg()
	}
	return args
}

// Load reads the rules file under localRoot. An absent file yields an
// empty set and sync proceeds unfiltered. The file is read fresh on
// every call; it may change between syncs.
func Load(localRoot string) (RuleSet, error) {
	return LoadFile(filepath.Join(localRoot, config.SyncRulesFileName))
}

// LoadFile reads a specific rules file. Each non-blank, non-comment
// line becomes one rule: "+ pattern" includes, "- pattern" excludes,
// and an unprefixed line is an exclude pattern.
func LoadFile(path string) (RuleSet, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open rules file: %w", err)
	}
	defer f.Close()

	var rules RuleSet
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			rules = append(rules, Rule{Kind: Include, Pattern: strings.TrimSpace(line[1:])})
		case strings.HasPrefix(line, "-"):
			rules = append(rules, Rule{Kind: Exclude, Pattern: strings.TrimSpace(line[1:])})
		default:
			rules = append(rules, Rule{Kind: Exclude, Pattern: line})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return rules, nil
}
