// Package cache keeps a per-shard replica of the guild state Discord streams
// over the gateway. It absorbs dispatch events as they arrive and can later
// replay the whole world to a freshly connected client as synthetic READY and
// GUILD_CREATE frames, so new clients never trigger a real re-identify.
package cache

import (
	"encoding/json"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// guildRecord holds the scalar guild properties replayed in a synthetic
// GUILD_CREATE. Channels, members, roles and voice states live in their own
// maps so individual dispatch events can touch them without rewriting the
// guild.
type guildRecord struct {
	ID          string
	Name        string
	OwnerID     string
	Permissions int64
	MemberCount int
	Unavailable bool
}

// GuildCache is the in-memory replica for one shard. All methods are safe for
// concurrent use; the dispatcher writes, client sessions read.
type GuildCache struct {
	mu            sync.RWMutex
	guilds        map[string]*guildRecord
	channels      map[string]*discordgo.Channel // includes threads
	guildChannels map[string]map[string]struct{}
	members       map[string]map[string]*discordgo.Member // user stripped, see users
	roles         map[string]map[string]*discordgo.Role
	voice         map[string]map[string]*discordgo.VoiceState
	users         map[string]*discordgo.User
}

func New() *GuildCache {
	return &GuildCache{
		guilds:        make(map[string]*guildRecord),
		channels:      make(map[string]*discordgo.Channel),
		guildChannels: make(map[string]map[string]struct{}),
		members:       make(map[string]map[string]*discordgo.Member),
		roles:         make(map[string]map[string]*discordgo.Role),
		voice:         make(map[string]map[string]*discordgo.VoiceState),
		users:         make(map[string]*discordgo.User),
	}
}

// guildPayload is the slice of a GUILD_CREATE body the cache tracks. Unknown
// fields are dropped; clients that need them get them from live events.
type guildPayload struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	OwnerID     string                  `json:"owner_id"`
	Permissions int64                   `json:"permissions,string"`
	MemberCount int                     `json:"member_count"`
	Unavailable bool                    `json:"unavailable"`
	Channels    []*discordgo.Channel    `json:"channels"`
	Threads     []*discordgo.Channel    `json:"threads"`
	Members     []*discordgo.Member     `json:"members"`
	Roles       []*discordgo.Role       `json:"roles"`
	VoiceStates []*discordgo.VoiceState `json:"voice_states"`
}

// Apply folds a dispatch event into the replica. Event types the cache does
// not track are ignored.
func (c *GuildCache) Apply(eventType string, data []byte) error {
	switch eventType {
	case "READY":
		return c.applyReady(data)
	case "GUILD_CREATE":
		return c.applyGuildCreate(data)
	case "GUILD_UPDATE":
		return c.applyGuildUpdate(data)
	case "GUILD_DELETE":
		return c.applyGuildDelete(data)
	case "CHANNEL_CREATE", "CHANNEL_UPDATE", "THREAD_CREATE", "THREAD_UPDATE":
		return c.applyChannelUpsert(data)
	case "CHANNEL_DELETE", "THREAD_DELETE":
		return c.applyChannelDelete(data)
	case "THREAD_LIST_SYNC":
		return c.applyThreadListSync(data)
	case "GUILD_MEMBER_ADD":
		return c.applyMemberAdd(data)
	case "GUILD_MEMBER_UPDATE":
		return c.applyMemberUpdate(data)
	case "GUILD_MEMBER_REMOVE":
		return c.applyMemberRemove(data)
	case "GUILD_MEMBERS_CHUNK":
		return c.applyMembersChunk(data)
	case "GUILD_ROLE_CREATE", "GUILD_ROLE_UPDATE":
		return c.applyRoleUpsert(data)
	case "GUILD_ROLE_DELETE":
		return c.applyRoleDelete(data)
	case "VOICE_STATE_UPDATE":
		return c.applyVoiceStateUpdate(data)
	case "USER_UPDATE":
		return c.applyUserUpdate(data)
	}
	return nil
}

func (c *GuildCache) applyReady(data []byte) error {
	var ready struct {
		Guilds []struct {
			ID          string `json:"id"`
			Unavailable bool   `json:"unavailable"`
		} `json:"guilds"`
	}
	if err := json.Unmarshal(data, &ready); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range ready.Guilds {
		c.guilds[g.ID] = &guildRecord{ID: g.ID, Unavailable: true}
	}
	return nil
}

func (c *GuildCache) applyGuildCreate(data []byte) error {
	var g guildPayload
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.guilds[g.ID] = &guildRecord{
		ID:          g.ID,
		Name:        g.Name,
		OwnerID:     g.OwnerID,
		Permissions: g.Permissions,
		MemberCount: g.MemberCount,
	}

	c.guildChannels[g.ID] = make(map[string]struct{}, len(g.Channels)+len(g.Threads))
	for _, ch := range g.Channels {
		c.upsertChannelLocked(g.ID, ch)
	}
	for _, th := range g.Threads {
		c.upsertChannelLocked(g.ID, th)
	}

	c.members[g.ID] = make(map[string]*discordgo.Member, len(g.Members))
	for _, m := range g.Members {
		c.upsertMemberLocked(g.ID, m)
	}

	c.roles[g.ID] = make(map[string]*discordgo.Role, len(g.Roles))
	for _, r := range g.Roles {
		c.roles[g.ID][r.ID] = r
	}

	c.voice[g.ID] = make(map[string]*discordgo.VoiceState, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		c.upsertVoiceStateLocked(g.ID, vs)
	}
	return nil
}

func (c *GuildCache) applyGuildUpdate(data []byte) error {
	var g guildPayload
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.guilds[g.ID]
	if !ok {
		rec = &guildRecord{ID: g.ID}
		c.guilds[g.ID] = rec
	}
	rec.Name = g.Name
	rec.OwnerID = g.OwnerID
	rec.Permissions = g.Permissions
	rec.Unavailable = false
	// GUILD_UPDATE carries no member_count; the tracked count stands.
	return nil
}

func (c *GuildCache) applyGuildDelete(data []byte) error {
	var g struct {
		ID          string `json:"id"`
		Unavailable bool   `json:"unavailable"`
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if g.Unavailable {
		// Outage, not removal: keep the record so replay emits a
		// GUILD_DELETE stub, drop the now-stale entities.
		if rec, ok := c.guilds[g.ID]; ok {
			rec.Unavailable = true
		} else {
			c.guilds[g.ID] = &guildRecord{ID: g.ID, Unavailable: true}
		}
	} else {
		delete(c.guilds, g.ID)
	}
	for id := range c.guildChannels[g.ID] {
		delete(c.channels, id)
	}
	delete(c.guildChannels, g.ID)
	delete(c.members, g.ID)
	delete(c.roles, g.ID)
	delete(c.voice, g.ID)
	return nil
}

func (c *GuildCache) applyChannelUpsert(data []byte) error {
	var ch discordgo.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return err
	}
	if ch.GuildID == "" {
		return nil // DMs are not replicated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertChannelLocked(ch.GuildID, &ch)
	return nil
}

func (c *GuildCache) applyChannelDelete(data []byte) error {
	var ch struct {
		ID      string `json:"id"`
		GuildID string `json:"guild_id"`
	}
	if err := json.Unmarshal(data, &ch); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, ch.ID)
	if ids, ok := c.guildChannels[ch.GuildID]; ok {
		delete(ids, ch.ID)
	}
	return nil
}

func (c *GuildCache) applyThreadListSync(data []byte) error {
	var payload struct {
		GuildID    string               `json:"guild_id"`
		ChannelIDs []string             `json:"channel_ids"`
		Threads    []*discordgo.Channel `json:"threads"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// The sync replaces the thread set for the listed parents, or for the
	// whole guild when no parents are listed.
	parents := make(map[string]struct{}, len(payload.ChannelIDs))
	for _, id := range payload.ChannelIDs {
		parents[id] = struct{}{}
	}
	for id := range c.guildChannels[payload.GuildID] {
		ch, ok := c.channels[id]
		if !ok || !isThread(ch.Type) {
			continue
		}
		if len(parents) > 0 {
			if _, synced := parents[ch.ParentID]; !synced {
				continue
			}
		}
		delete(c.channels, id)
		delete(c.guildChannels[payload.GuildID], id)
	}
	for _, th := range payload.Threads {
		c.upsertChannelLocked(payload.GuildID, th)
	}
	return nil
}

func (c *GuildCache) applyMemberAdd(data []byte) error {
	var m discordgo.Member
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.upsertMemberLocked(m.GuildID, &m) {
		if rec, ok := c.guilds[m.GuildID]; ok {
			rec.MemberCount++
		}
	}
	return nil
}

func (c *GuildCache) applyMemberUpdate(data []byte) error {
	var m discordgo.Member
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertMemberLocked(m.GuildID, &m)
	return nil
}

func (c *GuildCache) applyMemberRemove(data []byte) error {
	var m struct {
		GuildID string          `json:"guild_id"`
		User    *discordgo.User `json:"user"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m.User == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if members, ok := c.members[m.GuildID]; ok {
		if _, present := members[m.User.ID]; present {
			delete(members, m.User.ID)
			if rec, ok := c.guilds[m.GuildID]; ok && rec.MemberCount > 0 {
				rec.MemberCount--
			}
		}
	}
	if voice, ok := c.voice[m.GuildID]; ok {
		delete(voice, m.User.ID)
	}
	return nil
}

func (c *GuildCache) applyMembersChunk(data []byte) error {
	var chunk struct {
		GuildID string              `json:"guild_id"`
		Members []*discordgo.Member `json:"members"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range chunk.Members {
		c.upsertMemberLocked(chunk.GuildID, m)
	}
	return nil
}

func (c *GuildCache) applyRoleUpsert(data []byte) error {
	var ev struct {
		GuildID string          `json:"guild_id"`
		Role    *discordgo.Role `json:"role"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	if ev.Role == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	roles, ok := c.roles[ev.GuildID]
	if !ok {
		roles = make(map[string]*discordgo.Role)
		c.roles[ev.GuildID] = roles
	}
	roles[ev.Role.ID] = ev.Role
	return nil
}

func (c *GuildCache) applyRoleDelete(data []byte) error {
	var ev struct {
		GuildID string `json:"guild_id"`
		RoleID  string `json:"role_id"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if roles, ok := c.roles[ev.GuildID]; ok {
		delete(roles, ev.RoleID)
	}
	return nil
}

func (c *GuildCache) applyVoiceStateUpdate(data []byte) error {
	var vs discordgo.VoiceState
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	if vs.GuildID == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if vs.ChannelID == "" {
		// Left voice entirely.
		if states, ok := c.voice[vs.GuildID]; ok {
			delete(states, vs.UserID)
		}
		return nil
	}
	c.upsertVoiceStateLocked(vs.GuildID, &vs)
	return nil
}

func (c *GuildCache) applyUserUpdate(data []byte) error {
	var u discordgo.User
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = &u
	return nil
}

func (c *GuildCache) upsertChannelLocked(guildID string, ch *discordgo.Channel) {
	ch.GuildID = guildID
	c.channels[ch.ID] = ch
	ids, ok := c.guildChannels[guildID]
	if !ok {
		ids = make(map[string]struct{})
		c.guildChannels[guildID] = ids
	}
	ids[ch.ID] = struct{}{}
}

// upsertMemberLocked stores the member with the user split off into the
// shared user map. Returns false when the member carries no user and cannot
// be keyed.
func (c *GuildCache) upsertMemberLocked(guildID string, m *discordgo.Member) bool {
	if m.User == nil {
		return false
	}
	user := m.User
	stored := *m
	stored.GuildID = guildID
	stored.User = nil
	members, ok := c.members[guildID]
	if !ok {
		members = make(map[string]*discordgo.Member)
		c.members[guildID] = members
	}
	_, existed := members[user.ID]
	members[user.ID] = &stored
	c.users[user.ID] = user
	return !existed
}

func (c *GuildCache) upsertVoiceStateLocked(guildID string, vs *discordgo.VoiceState) {
	stored := *vs
	stored.GuildID = guildID
	stored.Member = nil // hydrated from the member map at replay time
	states, ok := c.voice[guildID]
	if !ok {
		states = make(map[string]*discordgo.VoiceState)
		c.voice[guildID] = states
	}
	states[stored.UserID] = &stored
}

func isThread(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	}
	return false
}

// GuildIDs returns a snapshot of the cached guild IDs in map order.
func (c *GuildCache) GuildIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.guilds))
	for id := range c.guilds {
		ids = append(ids, id)
	}
	return ids
}

// GuildCount returns the number of cached guilds, unavailable ones included.
func (c *GuildCache) GuildCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.guilds)
}

// Stats is a point-in-time size summary, exposed by the health endpoint.
type Stats struct {
	Guilds      int `json:"guilds"`
	Channels    int `json:"channels"`
	Members     int `json:"members"`
	Users       int `json:"users"`
	VoiceStates int `json:"voice_states"`
}

func (c *GuildCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		Guilds:   len(c.guilds),
		Channels: len(c.channels),
		Users:    len(c.users),
	}
	for _, members := range c.members {
		s.Members += len(members)
	}
	for _, states := range c.voice {
		s.VoiceStates += len(states)
	}
	return s
}
