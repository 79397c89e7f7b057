package bot

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// roleTracker remembers each member's roles. The gateway's member-remove
// payload carries no roles, and the session state has already dropped the
// member by the time handlers run.
type roleTracker struct {
	mu     sync.RWMutex
	guilds map[string]map[string][]string
}

func newRoleTracker() *roleTracker {
	return &roleTracker{guilds: make(map[string]map[string][]string)}
}

func (t *roleTracker) roles(guildID, userID string) ([]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roles, ok := t.guilds[guildID][userID]
	return roles, ok
}

func (t *roleTracker) set(guildID, userID string, roles []string) {
	copied := append([]string(nil), roles...)
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.guilds[guildID]
	if !ok {
		members = make(map[string][]string)
		t.guilds[guildID] = members
	}
	members[userID] = copied
}

func (t *roleTracker) forget(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.guilds[guildID], userID)
}

func (t *roleTracker) loadGuild(guildID string, members []*discordgo.Member) {
	for _, member := range members {
		if member == nil || member.User == nil {
			continue
		}
		t.set(guildID, member.User.ID, member.Roles)
	}
}

func (t *roleTracker) dropGuild(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.guilds, guildID)
}
