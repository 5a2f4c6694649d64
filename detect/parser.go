// Package detect implements the stateful pattern detector for
// authentication log lines: a fixed-priority line parser plus persisted
// sliding counters driving brute-force-style alerting.
package detect

import (
	"regexp"
	"strings"

	"argus/core"
)

// Line patterns, evaluated in priority order. The first match wins.
var (
	reSSHFailed      = regexp.MustCompile(`Failed password for (?:invalid user )?(\S+) from (\d+\.\d+\.\d+\.\d+)`)
	reSSHSuccess     = regexp.MustCompile(`Accepted (password|publickey) for (\S+) from (\d+\.\d+\.\d+\.\d+)`)
	reSSHInvalidUser = regexp.MustCompile(`Invalid user (\S+) from (\d+\.\d+\.\d+\.\d+)`)
	reSudoCommand    = regexp.MustCompile(`sudo: (\S+) : .*COMMAND=(.+)$`)
)

// ParseAuthLine parses one authentication log line into an AuthEvent.
// Unmatched lines return (nil, false); they are not an error.
func ParseAuthLine(message string) (*core.AuthEvent, bool) {
	if m := reSSHFailed.FindStringSubmatch(message); m != nil {
		return &core.AuthEvent{
			Kind:       core.AuthKindSSHFailed,
			Username:   m[1],
			SrcIP:      m[2],
			AuthMethod: "password",
			Message:    message,
		}, true
	}

	if m := reSSHSuccess.FindStringSubmatch(message); m != nil {
		return &core.AuthEvent{
			Kind:       core.AuthKindSSHSuccess,
			AuthMethod: m[1],
			Username:   m[2],
			SrcIP:      m[3],
			Message:    message,
		}, true
	}

	if m := reSSHInvalidUser.FindStringSubmatch(message); m != nil {
		return &core.AuthEvent{
			Kind:     core.AuthKindSSHInvalidUser,
			Username: m[1],
			SrcIP:    m[2],
			Message:  message,
		}, true
	}

	if m := reSudoCommand.FindStringSubmatch(message); m != nil {
		return &core.AuthEvent{
			Kind:     core.AuthKindSudoCommand,
			Username: m[1],
			Command:  strings.TrimSpace(m[2]),
			Message:  message,
		}, true
	}

	return nil, false
}
