package mail

import (
	"strings"

	"github.com/google/uuid"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/state"
)

// ResolveGroup expands a group address into individual agent names,
// excluding the sender and deduplicating. Accepted forms: @all,
// @<capability>, and the plural @<capability>s.
//
// Pure over its inputs so callers can resolve against any session set.
func ResolveGroup(address, sender string, active []*state.Session) ([]string, error) {
	if !IsGroupAddress(address) {
		return nil, errs.Validationf("%s is not a group address", address)
	}

	group := strings.TrimPrefix(address, "@")
	wantAll := group == "all"

	var capability state.Capability
	if !wantAll {
		capability = state.Capability(group)
		if !capability.Valid() {
			// Accept the plural form: @builders -> builder.
			singular := state.Capability(strings.TrimSuffix(group, "s"))
			if !singular.Valid() {
				return nil, errs.Validationf("unknown group address %s", address)
			}
			capability = singular
		}
	}

	seen := make(map[string]bool)
	var recipients []string
	for _, sess := range active {
		if sess.Name == sender || seen[sess.Name] {
			continue
		}
		if !wantAll && sess.Capability != capability {
			continue
		}
		seen[sess.Name] = true
		recipients = append(recipients, sess.Name)
	}

	if len(recipients) == 0 {
		return nil, errs.Validationf("group %s resolved to zero recipients", address)
	}
	return recipients, nil
}

// ExpandBroadcast turns a message addressed to a group into N individual
// messages sharing subject, body, and a freshly minted thread id.
func ExpandBroadcast(m *Message, active []*state.Session) ([]*Message, error) {
	recipients, err := ResolveGroup(m.To, m.From, active)
	if err != nil {
		return nil, err
	}

	threadID := m.ThreadID
	if threadID == "" {
		threadID = "thread-" + uuid.NewString()[:8]
	}

	msgs := make([]*Message, 0, len(recipients))
	for _, to := range recipients {
		copy := *m
		copy.ID = ""
		copy.To = to
		copy.ThreadID = threadID
		msgs = append(msgs, &copy)
	}
	return msgs, nil
}
