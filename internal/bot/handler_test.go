package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkblocksbot/internal/domain"
	"linkblocksbot/internal/linkblocks"
)

type sentMessage struct {
	channelID string
	content   string
	replyTo   string
}

// fakeSession records outgoing messages instead of talking to Discord.
type fakeSession struct {
	sent       []sentMessage
	channels   map[string]*discordgo.Channel
	memberErr  error
	dmErr      error
	memberCall []string
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content, replyTo: ref.MessageID})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.dmErr != nil {
		return nil, f.dmErr
	}
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeSession) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	f.memberCall = append(f.memberCall, guildID+"/"+userID)
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return &discordgo.Member{GuildID: guildID, User: &discordgo.User{ID: userID}}, nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return ch, nil
}

// memRepo is an in-memory credential store.
type memRepo struct {
	records map[string]domain.AuthRecord
	err     error
}

func (m *memRepo) Lookup(ctx context.Context, discordID string) (domain.AuthRecord, bool, error) {
	if m.err != nil {
		return domain.AuthRecord{}, false, m.err
	}
	rec, ok := m.records[discordID]
	return rec, ok, nil
}

func (m *memRepo) Upsert(ctx context.Context, discordID, apiKey, userID string) (domain.AuthRecord, error) {
	rec, ok := m.records[discordID]
	if ok {
		rec.APIKey = apiKey
	} else {
		rec = domain.AuthRecord{DiscordID: discordID, APIKey: apiKey, UserID: userID}
	}
	m.records[discordID] = rec
	return rec, nil
}

func (m *memRepo) Ping(ctx context.Context) error { return m.err }
func (m *memRepo) Close() error                   { return nil }

// linkblocksStub is an httptest server standing in for Linkblocks.
type linkblocksStub struct {
	*httptest.Server
	mu     sync.Mutex
	status int
	bodies []linkblocks.AddBookmarkRequest
}

func newLinkblocksStub(t *testing.T, status int) *linkblocksStub {
	t.Helper()
	stub := &linkblocksStub{status: status}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req linkblocks.AddBookmarkRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		stub.mu.Lock()
		stub.bodies = append(stub.bodies, req)
		stub.mu.Unlock()
		w.WriteHeader(stub.status)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *linkblocksStub) requests() []linkblocks.AddBookmarkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]linkblocks.AddBookmarkRequest(nil), s.bodies...)
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	session *fakeSession
	repo    *memRepo
	stub    *linkblocksStub
	handler *Handler
}

func newFixture(t *testing.T, status int, replyOnFailure bool) *fixture {
	t.Helper()
	f := &fixture{
		session: &fakeSession{channels: map[string]*discordgo.Channel{
			"chan-1": {ID: "chan-1", Name: "reading-list", Type: discordgo.ChannelTypeGuildText},
		}},
		repo: &memRepo{records: map[string]domain.AuthRecord{}},
		stub: newLinkblocksStub(t, status),
	}
	client := linkblocks.NewClient(f.stub.URL, time.Second, testLogger())
	f.handler = newHandler(f.session, func() string { return "guild-1" }, f.repo, client, replyOnFailure, testLogger())
	return f
}

func message(authorID, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		Content:   content,
		Author:    &discordgo.User{ID: authorID},
	}
}

func TestImport_UnauthenticatedUserGetsPrompt(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)

	f.handler.dispatch(context.Background(), message("42", "/import_to_linkblocks http://a"))

	require.Len(t, f.session.sent, 1)
	assert.Equal(t, sentMessage{channelID: "chan-1", content: NotAuthenticatedText, replyTo: "msg-1"}, f.session.sent[0])
	assert.Empty(t, f.stub.requests(), "no outbound call for unauthenticated users")
}

func TestImport_UsesChannelNameAsTag(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key-B", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", "/import_to_linkblocks http://a http://b"))

	require.Len(t, f.stub.requests(), 1)
	assert.Equal(t, linkblocks.AddBookmarkRequest{
		APIKey: "key-B",
		Tag:    "reading-list",
		UserID: "u1",
		URLs:   []string{"http://a", "http://b"},
	}, f.stub.requests()[0])

	require.Len(t, f.session.sent, 1)
	assert.Equal(t, ImportSuccessText, f.session.sent[0].content)
}

func TestImportWithTag_PostsExplicitTag(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key-B", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", `/import_to_linkblocks_with_tag reading http://a http://b`))

	require.Len(t, f.stub.requests(), 1)
	assert.Equal(t, linkblocks.AddBookmarkRequest{
		APIKey: "key-B",
		Tag:    "reading",
		UserID: "u1",
		URLs:   []string{"http://a", "http://b"},
	}, f.stub.requests()[0])

	require.Len(t, f.session.sent, 1)
	assert.Equal(t, ImportSuccessText, f.session.sent[0].content)
}

func TestImportWithTag_MissingTag(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", "/import_to_linkblocks_with_tag"))

	require.Len(t, f.session.sent, 1)
	assert.Equal(t, WithTagUsageText, f.session.sent[0].content)
	assert.Empty(t, f.stub.requests())
}

func TestImport_NonOKStatusIsSilentByDefault(t *testing.T) {
	f := newFixture(t, http.StatusInternalServerError, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", "/import_to_linkblocks_with_tag reading http://a"))

	assert.Len(t, f.stub.requests(), 1)
	assert.Empty(t, f.session.sent, "only a 200 produces a reply")
}

func TestImport_NonOKStatusRepliesWhenEnabled(t *testing.T) {
	f := newFixture(t, http.StatusInternalServerError, true)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", "/import_to_linkblocks_with_tag reading http://a"))

	require.Len(t, f.session.sent, 1)
	assert.Equal(t, "Linkblocks did not accept the import (status 500).", f.session.sent[0].content)
}

func TestImport_StoreUnavailable(t *testing.T) {
	f := newFixture(t, http.StatusOK, true)
	f.repo.err = errors.New("connection refused")

	f.handler.dispatch(context.Background(), message("42", "/import_to_linkblocks http://a"))

	require.Len(t, f.session.sent, 1)
	assert.Equal(t, StoreUnavailableText, f.session.sent[0].content)
	assert.Empty(t, f.stub.requests())
}

func TestImport_UnknownChannel(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key", UserID: "u1"}

	msg := message("42", "/import_to_linkblocks http://a")
	msg.ChannelID = "gone"
	f.handler.dispatch(context.Background(), msg)

	assert.Empty(t, f.stub.requests())
	assert.Empty(t, f.session.sent)
}

func TestLinkblocksAuth_SendsDM(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)

	f.handler.dispatch(context.Background(), message("42", "/linkblocks_auth"))

	assert.Equal(t, []string{"guild-1/42"}, f.session.memberCall)
	require.Len(t, f.session.sent, 2)
	assert.Equal(t, sentMessage{
		channelID: "dm-42",
		content:   "Please open this link to authenticate: " + f.stub.URL + "/api/get_key?id=42",
	}, f.session.sent[0])
	assert.Equal(t, sentMessage{channelID: "chan-1", content: CheckDMsText, replyTo: "msg-1"}, f.session.sent[1])
}

func TestLinkblocksAuth_UnresolvedUserIsSilent(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.session.memberErr = errors.New("unknown member")

	f.handler.dispatch(context.Background(), message("42", "/linkblocks_auth"))

	assert.Empty(t, f.session.sent)
}

func TestLinkblocksAuth_DMFailureIsSilent(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.session.dmErr = errors.New("cannot send messages to this user")

	f.handler.dispatch(context.Background(), message("42", "/linkblocks_auth"))

	assert.Empty(t, f.session.sent)
}

func TestLinkblocksAuth_NoGuild(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.handler.firstGuild = func() string { return "" }

	f.handler.dispatch(context.Background(), message("42", "/linkblocks_auth"))

	assert.Empty(t, f.session.memberCall)
	assert.Empty(t, f.session.sent)
}

func TestDispatch_IgnoresNonCommands(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)

	bot := message("42", "/linkblocks_auth")
	bot.Author.Bot = true

	for _, msg := range []*discordgo.Message{
		message("42", "hello there"),
		message("42", "/"),
		message("42", "/unknown_command"),
		message("42", "import_to_linkblocks http://a"),
		bot,
		{Content: "/linkblocks_auth"},
	} {
		f.handler.dispatch(context.Background(), msg)
	}

	assert.Empty(t, f.session.sent)
	assert.Empty(t, f.session.memberCall)
	assert.Empty(t, f.stub.requests())
}

func TestAuthThenImport(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	ctx := context.Background()

	// The callback endpoint writes the record between the two commands.
	_, err := f.repo.Upsert(ctx, "42", "key-A", "u1")
	require.NoError(t, err)
	_, err = f.repo.Upsert(ctx, "42", "key-B", "u1")
	require.NoError(t, err)

	f.handler.dispatch(ctx, message("42", "/import_to_linkblocks_with_tag reading http://a"))

	require.Len(t, f.stub.requests(), 1)
	assert.Equal(t, "key-B", f.stub.requests()[0].APIKey)
	assert.Equal(t, "u1", f.stub.requests()[0].UserID)
}

func TestImportWithTag_QuotedArguments(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key-B", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", `/import_to_linkblocks_with_tag "reading" "http://a" "http://b"`))

	require.Len(t, f.stub.requests(), 1)
	assert.Equal(t, linkblocks.AddBookmarkRequest{
		APIKey: "key-B",
		Tag:    "reading",
		UserID: "u1",
		URLs:   []string{"http://a", "http://b"},
	}, f.stub.requests()[0])
}

func TestImportWithTag_MultiWordTag(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", `/import_to_linkblocks_with_tag "to read" http://a`))

	require.Len(t, f.stub.requests(), 1)
	assert.Equal(t, "to read", f.stub.requests()[0].Tag)
	assert.Equal(t, []string{"http://a"}, f.stub.requests()[0].URLs)
}

func TestImportWithTag_UnclosedQuoteIsIgnored(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key", UserID: "u1"}

	f.handler.dispatch(context.Background(), message("42", `/import_to_linkblocks_with_tag "to read http://a`))

	assert.Empty(t, f.stub.requests())
	assert.Empty(t, f.session.sent)
}

func TestImport_DirectMessageTag(t *testing.T) {
	f := newFixture(t, http.StatusOK, false)
	f.repo.records["42"] = domain.AuthRecord{DiscordID: "42", APIKey: "key", UserID: "u1"}
	f.session.channels["dm-chan"] = &discordgo.Channel{
		ID:         "dm-chan",
		Type:       discordgo.ChannelTypeDM,
		Recipients: []*discordgo.User{{ID: "42", Username: "alice", Discriminator: "1234"}},
	}
	f.session.channels["dm-empty"] = &discordgo.Channel{ID: "dm-empty", Type: discordgo.ChannelTypeDM}

	msg := message("42", "/import_to_linkblocks http://a")
	msg.ChannelID = "dm-chan"
	msg.GuildID = ""
	f.handler.dispatch(context.Background(), msg)

	msg = message("42", "/import_to_linkblocks http://b")
	msg.ChannelID = "dm-empty"
	msg.GuildID = ""
	f.handler.dispatch(context.Background(), msg)

	reqs := f.stub.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Direct Message with alice#1234", reqs[0].Tag)
	assert.Equal(t, "Direct Message with Unknown User", reqs[1].Tag)
}
