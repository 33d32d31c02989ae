package cache

import (
	"iter"

	"github.com/bwmarrin/discordgo"
)

// Payload is a synthetic dispatch frame built from the replica. Field order
// matches the frames Discord itself emits.
type Payload struct {
	D  any    `json:"d"`
	Op int    `json:"op"`
	T  string `json:"t"`
	S  int64  `json:"s"`
}

type unavailableGuild struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// guildState is the guild body of a synthetic GUILD_CREATE: the cached scalar
// properties plus the fully hydrated entity lists.
type guildState struct {
	Channels    []*discordgo.Channel    `json:"channels"`
	ID          string                  `json:"id"`
	MemberCount int                     `json:"member_count"`
	Members     []*discordgo.Member     `json:"members"`
	Name        string                  `json:"name"`
	OwnerID     string                  `json:"owner_id"`
	Permissions int64                   `json:"permissions,string"`
	Roles       []*discordgo.Role       `json:"roles"`
	Threads     []*discordgo.Channel    `json:"threads"`
	Unavailable bool                    `json:"unavailable"`
	VoiceStates []*discordgo.VoiceState `json:"voice_states"`
}

// BuildReady produces a synthetic READY from the stored template, with the
// guild list replaced by unavailable stubs for every cached guild. The real
// guilds follow as GuildPayloads. seq is advanced by one.
func (c *GuildCache) BuildReady(template map[string]any, seq *int64) Payload {
	*seq++

	c.mu.RLock()
	stubs := make([]unavailableGuild, 0, len(c.guilds))
	for id := range c.guilds {
		stubs = append(stubs, unavailableGuild{ID: id, Unavailable: true})
	}
	c.mu.RUnlock()

	ready := make(map[string]any, len(template)+1)
	for k, v := range template {
		ready[k] = v
	}
	ready["guilds"] = stubs

	return Payload{D: ready, Op: 0, T: "READY", S: *seq}
}

// GuildPayloads yields one frame per cached guild: GUILD_CREATE for available
// guilds, GUILD_DELETE stubs for unavailable ones. Assembly is lazy, one
// guild at a time under a read lock, so a client slowly draining its backlog
// never pins the whole replica. The guild set is snapshotted up front; guilds
// removed mid-replay are skipped and seq only advances for yielded frames.
func (c *GuildCache) GuildPayloads(seq *int64) iter.Seq[Payload] {
	ids := c.GuildIDs()
	return func(yield func(Payload) bool) {
		for _, id := range ids {
			p, ok := c.guildPayload(id, seq)
			if !ok {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

func (c *GuildCache) guildPayload(id string, seq *int64) (Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.guilds[id]
	if !ok {
		return Payload{}, false
	}
	*seq++

	if rec.Unavailable {
		d := unavailableGuild{ID: id, Unavailable: true}
		return Payload{D: d, Op: 0, T: "GUILD_DELETE", S: *seq}, true
	}

	g := guildState{
		Channels:    []*discordgo.Channel{},
		ID:          rec.ID,
		MemberCount: rec.MemberCount,
		Members:     []*discordgo.Member{},
		Name:        rec.Name,
		OwnerID:     rec.OwnerID,
		Permissions: rec.Permissions,
		Roles:       []*discordgo.Role{},
		Threads:     []*discordgo.Channel{},
		VoiceStates: []*discordgo.VoiceState{},
	}

	for chID := range c.guildChannels[id] {
		ch, ok := c.channels[chID]
		if !ok {
			continue
		}
		if isThread(ch.Type) {
			g.Threads = append(g.Threads, ch)
		} else {
			g.Channels = append(g.Channels, ch)
		}
	}

	for userID := range c.members[id] {
		if m := c.memberLocked(id, userID); m != nil {
			g.Members = append(g.Members, m)
		}
	}

	for _, role := range c.roles[id] {
		g.Roles = append(g.Roles, role)
	}

	for userID, vs := range c.voice[id] {
		hydrated := *vs
		hydrated.Member = c.memberLocked(id, userID)
		g.VoiceStates = append(g.VoiceStates, &hydrated)
	}

	return Payload{D: g, Op: 0, T: "GUILD_CREATE", S: *seq}, true
}

// memberLocked rebuilds a full member from the split member and user maps.
// Members whose user is unknown are left out rather than emitted half-formed.
func (c *GuildCache) memberLocked(guildID, userID string) *discordgo.Member {
	m, ok := c.members[guildID][userID]
	if !ok {
		return nil
	}
	u, ok := c.users[userID]
	if !ok {
		return nil
	}
	hydrated := *m
	hydrated.User = u
	return &hydrated
}
