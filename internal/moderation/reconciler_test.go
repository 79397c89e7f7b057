package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"bastion/internal/config"
	"bastion/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type roleCall struct {
	GuildID, UserID, RoleID string
	Add                     bool
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []*discordgo.MessageEmbed
	edited  map[string]*discordgo.MessageEmbed
	roles   []roleCall
	bans    []string
	unbans  []string
	banErr  error
	roleErr error
	sendErr error
	editErr error

	memberRoles map[string][]string
	lookupErr   error
	// onSend runs once, outside the lock, before the next embed is posted.
	onSend func()
}

func newFakeClient() *fakeClient {
	return &fakeClient{edited: make(map[string]*discordgo.MessageEmbed), memberRoles: make(map[string][]string)}
}

func (f *fakeClient) SendEmbed(_ context.Context, channelID string, embed *discordgo.MessageEmbed) (storage.MessageRef, error) {
	if hook := f.onSend; hook != nil {
		f.onSend = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return storage.MessageRef{}, f.sendErr
	}
	f.sent = append(f.sent, embed)
	return storage.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("m%d", len(f.sent))}, nil
}

func (f *fakeClient) EditEmbed(_ context.Context, ref storage.MessageRef, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edited[ref.MessageID] = embed
	return nil
}

func (f *fakeClient) AddRole(_ context.Context, guildID, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return f.roleErr
	}
	f.roles = append(f.roles, roleCall{guildID, userID, roleID, true})
	return nil
}

func (f *fakeClient) RemoveRole(_ context.Context, guildID, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return f.roleErr
	}
	f.roles = append(f.roles, roleCall{guildID, userID, roleID, false})
	return nil
}

func (f *fakeClient) Ban(_ context.Context, _, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banErr != nil {
		return f.banErr
	}
	f.bans = append(f.bans, userID)
	return nil
}

func (f *fakeClient) Unban(_ context.Context, _, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banErr != nil {
		return f.banErr
	}
	f.unbans = append(f.unbans, userID)
	return nil
}

func (f *fakeClient) MemberRoles(_ context.Context, _, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.memberRoles[userID], nil
}

// hookedStore runs afterFindRange once, right after the next FindRange read.
type hookedStore struct {
	*storage.Store
	afterFindRange func()
}

func (s *hookedStore) FindRange(ctx context.Context, guildID string, lo, hi int) ([]storage.Case, error) {
	cases, err := s.Store.FindRange(ctx, guildID, lo, hi)
	if hook := s.afterFindRange; hook != nil {
		s.afterFindRange = nil
		hook()
	}
	return cases, err
}

type staticConfigs struct {
	cfg storage.GuildConfig
}

func (s *staticConfigs) Get(_ context.Context, guildID string) (storage.GuildConfig, error) {
	cfg := s.cfg
	cfg.GuildID = guildID
	return cfg, nil
}

func (s *staticConfigs) Prefix(cfg storage.GuildConfig) string {
	if cfg.Prefix != nil {
		return *cfg.Prefix
	}
	return "/"
}

type harness struct {
	store   *storage.Store
	client  *fakeClient
	configs *staticConfigs
	clock   *fakeClock
	rec     *Reconciler
}

func strPtr(v string) *string { return &v }

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(storage.Options{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	h := &harness{
		store:  store,
		client: newFakeClient(),
		configs: &staticConfigs{cfg: storage.GuildConfig{
			MuteRoleID:      strPtr("R"),
			ModLogChannelID: strPtr("modlog"),
		}},
		clock: &fakeClock{now: time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)},
	}
	h.rec = NewReconciler(store, h.configs, h.client, nil, config.DefaultConfig().Notifications.EmbedColors, zap.NewNop())
	h.rec.WithClock(h.clock)
	return h
}

func (h *harness) allCases(t *testing.T, guildID string) []storage.Case {
	t.Helper()
	cases, err := h.store.FindRange(context.Background(), guildID, 1, 1000)
	require.NoError(t, err)
	return cases
}

var member = Target{ID: "M", Tag: "member#0001"}

func TestCommandBanThenPlatformEventAdopts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.rec.RecordCommandBan(ctx, "g1", member, "mod1", strPtr("raiding"))
	require.NoError(t, err)
	assert.True(t, pending.Pending)
	assert.Equal(t, []string{"M"}, h.client.bans)
	assert.Empty(t, h.client.sent)

	confirmed, err := h.rec.ReconcilePlatformBan(ctx, "g1", member)
	require.NoError(t, err)
	assert.Equal(t, pending.CaseNumber, confirmed.CaseNumber)
	assert.False(t, confirmed.Pending)
	require.NotNil(t, confirmed.ExecutorID)
	assert.Equal(t, "mod1", *confirmed.ExecutorID)

	cases := h.allCases(t, "g1")
	require.Len(t, cases, 1)
	assert.False(t, cases[0].Pending)
	assert.Equal(t, &storage.MessageRef{ChannelID: "modlog", MessageID: "m1"}, cases[0].LogMessage)
	require.Len(t, h.client.sent, 1)
	assert.Equal(t, "Ban | Case #1", h.client.sent[0].Title)
}

func TestPlatformEventWithoutCommandIsUnattributed(t *testing.T) {
	h := newHarness(t)

	c, err := h.rec.ReconcilePlatformUnban(context.Background(), "g1", member)
	require.NoError(t, err)
	assert.False(t, c.Pending)
	assert.Nil(t, c.ExecutorID)

	require.Len(t, h.client.sent, 1)
	embed := h.client.sent[0]
	assert.Equal(t, "Moderator", embed.Fields[1].Name)
	assert.Equal(t, "Unknown", embed.Fields[1].Value)
	assert.Equal(t, "Responsible moderator, please use /reason 1 <reason>", embed.Fields[2].Value)
}

func TestBanInterleavings(t *testing.T) {
	type step string
	const (
		command step = "command"
		event   step = "event"
	)
	cases := []struct {
		name       string
		steps      []step
		wantTotal  int
		wantActive int
	}{
		{"command then event", []step{command, event}, 1, 1},
		{"event only", []step{event}, 1, 1},
		{"event then command", []step{event, command}, 2, 1},
		{"command then duplicate events", []step{command, event, event}, 2, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			for _, s := range tc.steps {
				var err error
				switch s {
				case command:
					_, err = h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
				case event:
					_, err = h.rec.ReconcilePlatformBan(ctx, "g1", member)
				}
				require.NoError(t, err)
			}

			all := h.allCases(t, "g1")
			confirmed := 0
			for _, c := range all {
				if !c.Pending {
					confirmed++
				}
			}
			assert.Len(t, all, tc.wantTotal)
			assert.Equal(t, tc.wantActive, confirmed)
		})
	}
}

func TestConcurrentCommandAndEvent(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = h.rec.ReconcilePlatformBan(ctx, "g1", member)
		}()
		wg.Wait()

		all := h.allCases(t, "g1")
		confirmed := 0
		for _, c := range all {
			if !c.Pending {
				confirmed++
			}
		}
		assert.GreaterOrEqual(t, confirmed, 1)
		assert.LessOrEqual(t, len(all), 2)
	}
}

func TestCommandRollbackOnEnforcementFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.client.banErr = &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions},
	}

	_, err := h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
	var userErr *UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Message, "permission")

	pending, err := h.store.FindPending(ctx, "g1", storage.ActionBan, "M")
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.Empty(t, h.allCases(t, "g1"))

	// the rolled back number is not handed out again
	h.client.banErr = nil
	c, err := h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, c.CaseNumber)
}

func TestCommandWhilePendingIsRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
	require.NoError(t, err)
	_, err = h.rec.RecordCommandBan(ctx, "g1", member, "mod2", nil)
	var userErr *UserError
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, "A ban for that user is already in progress.", userErr.Message)
	assert.Len(t, h.client.bans, 1)
}

func TestMuteWithoutRoleConfigured(t *testing.T) {
	h := newHarness(t)
	h.configs.cfg.MuteRoleID = nil
	ctx := context.Background()

	_, err := h.rec.RecordCommandMute(ctx, "g1", member, "mod1", nil)
	var userErr *UserError
	require.ErrorAs(t, err, &userErr)

	c, err := h.rec.ReconcilePlatformMemberUpdate(ctx, "g1", member, nil, []string{"R"})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, h.allCases(t, "g1"))
}

func TestMemberUpdateDiff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.rec.ReconcilePlatformMemberUpdate(ctx, "g1", member, []string{"A"}, []string{"A", "B"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = h.rec.ReconcilePlatformMemberUpdate(ctx, "g1", member, []string{"A"}, []string{"A", "R"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, storage.ActionMute, c.Kind)

	c, err = h.rec.ReconcilePlatformMemberUpdate(ctx, "g1", member, []string{"A", "R"}, []string{"A"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, storage.ActionUnmute, c.Kind)
}

func TestMuteScenarioWithReason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := h.rec.ReconcilePlatformBan(ctx, "g1", Target{ID: fmt.Sprintf("other%d", i)})
		require.NoError(t, err)
	}

	pending, err := h.rec.RecordCommandMute(ctx, "g1", member, "mod1", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, pending.CaseNumber)
	assert.True(t, pending.Pending)
	assert.Equal(t, []roleCall{{"g1", "M", "R", true}}, h.client.roles)

	confirmed, err := h.rec.ReconcilePlatformMemberUpdate(ctx, "g1", member, nil, []string{"R"})
	require.NoError(t, err)
	require.NotNil(t, confirmed)
	assert.Equal(t, 5, confirmed.CaseNumber)
	assert.False(t, confirmed.Pending)
	require.NotNil(t, confirmed.LogMessage)
	assert.Len(t, h.client.sent, 5)

	selector, err := ParseCaseSelector("5", 50)
	require.NoError(t, err)
	result, err := h.rec.SetReason(ctx, "g1", selector, "spam", "mod2")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Empty(t, result.Failures)

	edited := h.client.edited[confirmed.LogMessage.MessageID]
	require.NotNil(t, edited)
	assert.Equal(t, "spam", edited.Fields[2].Value)

	cases, err := h.store.FindRange(ctx, "g1", 5, 5)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "spam", *cases[0].Reason)
	assert.Equal(t, "mod2", *cases[0].ExecutorID)
}

func TestSetReasonPartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.rec.ReconcilePlatformBan(ctx, "g1", Target{ID: fmt.Sprintf("u%d", i)})
		require.NoError(t, err)
	}
	h.client.editErr = &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage},
	}

	result, err := h.rec.SetReason(ctx, "g1", CaseSelector{From: 1, To: 3}, "cleanup", "mod1")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Updated)
	assert.Len(t, result.Failures, 3)
	assert.Contains(t, result.Summary(), "Updated 3 cases.")

	for _, c := range h.allCases(t, "g1") {
		assert.Equal(t, "cleanup", *c.Reason)
		assert.Nil(t, c.LogMessage)
	}
}

func TestSetReasonLatestAndEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.SetReason(ctx, "g1", CaseSelector{Latest: true}, "x", "mod1")
	var userErr *UserError
	require.ErrorAs(t, err, &userErr)

	_, err = h.rec.ReconcilePlatformBan(ctx, "g1", member)
	require.NoError(t, err)
	_, err = h.rec.ReconcilePlatformUnban(ctx, "g1", member)
	require.NoError(t, err)

	result, err := h.rec.SetReason(ctx, "g1", CaseSelector{Latest: true}, "appeal accepted", "mod1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	cases, err := h.store.FindRange(ctx, "g1", 1, 2)
	require.NoError(t, err)
	assert.Nil(t, cases[0].Reason)
	assert.Equal(t, "appeal accepted", *cases[1].Reason)

	_, err = h.rec.SetReason(ctx, "g1", CaseSelector{From: 7, To: 9}, "x", "mod1")
	require.ErrorAs(t, err, &userErr)
}

func TestModLogFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.client.sendErr = errors.New("gateway down")

	c, err := h.rec.ReconcilePlatformBan(context.Background(), "g1", member)
	require.NoError(t, err)
	assert.False(t, c.Pending)
	assert.Nil(t, c.LogMessage)

	cases := h.allCases(t, "g1")
	require.Len(t, cases, 1)
	assert.Nil(t, cases[0].LogMessage)
}

func TestSweepConfirmsStalePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
	require.NoError(t, err)

	n, err := h.rec.SweepPending(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.clock.now = h.clock.now.Add(11 * time.Minute)
	n, err = h.rec.SweepPending(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cases := h.allCases(t, "g1")
	require.Len(t, cases, 1)
	assert.False(t, cases[0].Pending)
	assert.NotNil(t, cases[0].LogMessage)

	// a late platform event no longer finds a pending case
	_, err = h.rec.ReconcilePlatformBan(ctx, "g1", member)
	require.NoError(t, err)
	assert.Len(t, h.allCases(t, "g1"), 2)
}

func TestMuteStateIsCheckedBeforeCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var userErr *UserError

	h.client.memberRoles["M"] = []string{"A", "R"}
	_, err := h.rec.RecordCommandMute(ctx, "g1", member, "mod1", nil)
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, "That user is already muted.", userErr.Message)

	h.client.memberRoles["M"] = []string{"A"}
	_, err = h.rec.RecordCommandUnmute(ctx, "g1", member, "mod1", nil)
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, "That user is not muted.", userErr.Message)

	assert.Empty(t, h.client.roles)
	assert.Empty(t, h.allCases(t, "g1"))

	// without the member's roles the enforcement call decides
	h.client.lookupErr = errors.New("gateway down")
	c, err := h.rec.RecordCommandMute(ctx, "g1", member, "mod1", nil)
	require.NoError(t, err)
	assert.True(t, c.Pending)
	assert.Equal(t, []roleCall{{"g1", "M", "R", true}}, h.client.roles)
}

func TestReasonEditRacingPlatformConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
	require.NoError(t, err)

	store := &hookedStore{Store: h.store, afterFindRange: func() {
		_, err := h.rec.ReconcilePlatformBan(ctx, "g1", member)
		require.NoError(t, err)
	}}
	editor := NewReconciler(store, h.configs, h.client, nil, config.DefaultConfig().Notifications.EmbedColors, zap.NewNop())
	editor.WithClock(h.clock)

	result, err := editor.SetReason(ctx, "g1", CaseSelector{From: 1, To: 1}, "raiding", "mod2")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Empty(t, result.Failures)

	pending, err := h.store.FindPending(ctx, "g1", storage.ActionBan, "M")
	require.NoError(t, err)
	assert.Nil(t, pending)

	cases := h.allCases(t, "g1")
	require.Len(t, cases, 1)
	assert.False(t, cases[0].Pending)
	assert.Equal(t, &storage.MessageRef{ChannelID: "modlog", MessageID: "m1"}, cases[0].LogMessage)
	assert.Equal(t, "raiding", *cases[0].Reason)
	require.NotNil(t, h.client.edited["m1"])
	assert.Equal(t, "raiding", h.client.edited["m1"].Fields[2].Value)

	// nothing is left for the sweeper to confirm or post again
	h.clock.now = h.clock.now.Add(time.Hour)
	n, err := h.rec.SweepPending(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, h.client.sent, 1)
}

func TestReasonEditWhileLogEntryPosts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.client.onSend = func() {
		_, err := h.rec.SetReason(ctx, "g1", CaseSelector{From: 1, To: 1}, "spam", "mod2")
		require.NoError(t, err)
	}

	c, err := h.rec.ReconcilePlatformBan(ctx, "g1", member)
	require.NoError(t, err)
	require.NotNil(t, c.Reason)
	assert.Equal(t, "spam", *c.Reason)

	cases := h.allCases(t, "g1")
	require.Len(t, cases, 1)
	require.NotNil(t, cases[0].Reason)
	assert.Equal(t, "spam", *cases[0].Reason)
	assert.Equal(t, "mod2", *cases[0].ExecutorID)
	assert.Equal(t, &storage.MessageRef{ChannelID: "modlog", MessageID: "m1"}, cases[0].LogMessage)

	// the posted entry predates the reason and is refreshed in place
	require.NotNil(t, h.client.edited["m1"])
	assert.Equal(t, "spam", h.client.edited["m1"].Fields[2].Value)
}

func TestSetReasonReportsMissingNumbers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rec.ReconcilePlatformBan(ctx, "g1", Target{ID: "u1"})
	require.NoError(t, err)
	h.client.banErr = errors.New("forbidden")
	_, err = h.rec.RecordCommandBan(ctx, "g1", member, "mod1", nil)
	require.Error(t, err)
	h.client.banErr = nil
	_, err = h.rec.ReconcilePlatformBan(ctx, "g1", Target{ID: "u3"})
	require.NoError(t, err)

	result, err := h.rec.SetReason(ctx, "g1", CaseSelector{From: 1, To: 3}, "cleanup", "mod1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, []CaseFailure{{CaseNumber: 2, Reason: "case not found"}}, result.Failures)
	assert.Equal(t, "Updated 2 cases.\nCase #2: case not found", result.Summary())
}
