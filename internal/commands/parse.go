// Package commands implements the chat command grammar of spec.md
// §6.3: a verb-and-args parser and a dispatcher wiring each verb to
// the internal/trust, internal/gatekeeper, internal/governance, and
// internal/matchmaker components. Grounded on the teacher's cobra
// command-registration style (cmd/cli/*.go), adapted from a
// process-argv CLI to chat-message tokenization since the surface
// here is PM/group-mention text, not os.Args.
package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// Verb enumerates the public command verbs of spec.md §6.3.
type Verb string

const (
	VerbInvite      Verb = "invite"
	VerbVouch       Verb = "vouch"
	VerbFlag        Verb = "flag"
	VerbStatus      Verb = "status"
	VerbMesh        Verb = "mesh"
	VerbPropose     Verb = "propose"
	VerbAudit       Verb = "audit"
	VerbCreateGroup Verb = "create-group"
	VerbAddSeed     Verb = "add-seed"
)

// Command is a parsed chat command: verb, positional args, and flags
// (--key or --key=value tokens).
type Command struct {
	Verb  Verb
	Args  []string
	Flags map[string]string
}

var errEmptyCommand = fmt.Errorf("commands: empty command text")
var errUnknownVerb = fmt.Errorf("commands: unknown verb")

// Parse tokenizes raw command text (spec.md §6.3's case-insensitive
// verb table) into a Command. Flags are any token beginning with "--";
// "--key value" and "--key=value" are both accepted.
func Parse(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return Command{}, errEmptyCommand
	}

	verb := Verb(strings.ToLower(fields[0]))
	switch verb {
	case VerbInvite, VerbVouch, VerbFlag, VerbStatus, VerbMesh, VerbPropose, VerbAudit, VerbCreateGroup, VerbAddSeed:
	default:
		return Command{}, fmt.Errorf("%w: %q", errUnknownVerb, fields[0])
	}

	cmd := Command{Verb: verb, Flags: make(map[string]string)}
	rest := fields[1:]
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if !strings.HasPrefix(tok, "--") {
			cmd.Args = append(cmd.Args, tok)
			continue
		}
		key := strings.TrimPrefix(tok, "--")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			cmd.Flags[key[:eq]] = key[eq+1:]
			continue
		}
		if i+1 < len(rest) && !strings.HasPrefix(rest[i+1], "--") {
			cmd.Flags[key] = rest[i+1]
			i++
		} else {
			cmd.Flags[key] = "true"
		}
	}
	return cmd, nil
}

// FlagInt reads an integer flag, returning def if absent or unparsable.
func (c Command) FlagInt(key string, def int) int {
	v, ok := c.Flags[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// FirstMention extracts the first "@..." argument, or "" if none.
func (c Command) FirstMention() string {
	for _, a := range c.Args {
		if strings.HasPrefix(a, "@") {
			return strings.TrimPrefix(a, "@")
		}
	}
	return ""
}

// Remainder joins every non-mention argument back into free text (e.g.
// an invite context string or a flag reason).
func (c Command) Remainder() string {
	var parts []string
	for _, a := range c.Args {
		if strings.HasPrefix(a, "@") {
			continue
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
