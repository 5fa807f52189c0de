package gateway

import (
	"strconv"
	"strings"
)

// Thread command verbs.
const (
	cmdClaim      = "claim"
	cmdClose      = "close"
	cmdReopen     = "reopen"
	cmdPriority   = "priority"
	cmdLabel      = "label"
	cmdCategory   = "category"
	cmdEscalate   = "escalate"
	cmdForward    = "forward"
	cmdAdd        = "add"
	cmdTranscript = "transcript"
	cmdRate       = "rate"
)

var threadVerbs = map[string]bool{
	cmdClaim: true, cmdClose: true, cmdReopen: true, cmdPriority: true, cmdLabel: true,
	cmdCategory: true, cmdEscalate: true, cmdForward: true, cmdAdd: true, cmdTranscript: true,
}

// command is a parsed prefixed message.
type command struct {
	verb string
	args string
}

// parseCommand splits "<prefix><verb> <args>". It reports false when content does not
// start with prefix.
func parseCommand(content, prefix string) (command, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return command{}, false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(content, prefix))
	verb, args, _ := strings.Cut(rest, " ")
	if verb == "" {
		return command{}, false
	}
	return command{verb: strings.ToLower(verb), args: strings.TrimSpace(args)}, true
}

// parseUserRef accepts a raw ID or a <@id> / <@!id> mention.
func parseUserRef(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	arg = strings.TrimPrefix(arg, "<@")
	arg = strings.TrimPrefix(arg, "!")
	arg = strings.TrimSuffix(arg, ">")
	if arg == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(arg, 10, 64); err != nil {
		return "", false
	}
	return arg, true
}

// rateArgs is the parsed form of "<ticket> <1-5> [comment]".
type rateArgs struct {
	ticketID int64
	rating   int
	comment  string
}

func parseRate(args string) (rateArgs, bool) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return rateArgs{}, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "#"), 10, 64)
	if err != nil {
		return rateArgs{}, false
	}
	rating, err := strconv.Atoi(fields[1])
	if err != nil {
		return rateArgs{}, false
	}
	return rateArgs{ticketID: id, rating: rating, comment: strings.Join(fields[2:], " ")}, true
}
