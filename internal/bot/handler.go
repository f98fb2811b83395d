package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"linkblocksbot/internal/config"
	"linkblocksbot/internal/linkblocks"
	"linkblocksbot/internal/storage"
)

// CommandPrefix starts every bot command in a message.
const CommandPrefix = "/"

// Session is the subset of *discordgo.Session the handlers use.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Linkblocks is the bookmarking service as seen by the bot.
type Linkblocks interface {
	AuthURL(discordID string) string
	AddBookmarks(ctx context.Context, req linkblocks.AddBookmarkRequest) (int, error)
}

type commandFunc func(ctx context.Context, msg *discordgo.Message, args []string)

// Handler holds dependencies for the Discord command handlers.
type Handler struct {
	session    *discordgo.Session
	api        Session
	firstGuild func() string
	repo       storage.Repository
	linkblocks Linkblocks
	log        logrus.FieldLogger

	replyOnFailure bool
	commands       map[string]commandFunc

	// ctx is set by Run before the gateway connection is opened.
	ctx context.Context
}

// NewHandler creates the Discord session and registers the command handlers.
// The gateway connection is opened by Run.
func NewHandler(cfg config.Config, repo storage.Repository, lb Linkblocks, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	s, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.WithError(err).Error("Failed to create Discord session")
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMembers |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent

	h := newHandler(s, firstStateGuild(s), repo, lb, cfg.ReplyOnFailure, log)
	h.session = s

	s.AddHandler(h.onReady)
	s.AddHandler(h.onMessageCreate)

	log.Info("Discord bot handler initialized")
	return h, nil
}

func newHandler(api Session, firstGuild func() string, repo storage.Repository, lb Linkblocks, replyOnFailure bool, log logrus.FieldLogger) *Handler {
	h := &Handler{
		api:            api,
		firstGuild:     firstGuild,
		repo:           repo,
		linkblocks:     lb,
		log:            log,
		replyOnFailure: replyOnFailure,
		ctx:            context.Background(),
	}
	h.registerCommands()
	return h
}

// registerCommands sets up the command table.
func (h *Handler) registerCommands() {
	h.commands = map[string]commandFunc{
		"linkblocks_auth":               h.linkblocksAuth,
		"import_to_linkblocks":          h.importToLinkblocks,
		"import_to_linkblocks_with_tag": h.importToLinkblocksWithTag,
	}
	for name := range h.commands {
		h.log.Infof("Registered %s%s command handler", CommandPrefix, name)
	}
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) error {
	h.ctx = ctx

	h.log.Info("Opening Discord gateway connection...")
	if err := h.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	<-ctx.Done()

	h.log.Info("Closing Discord gateway connection...")
	if err := h.session.Close(); err != nil {
		h.log.WithError(err).Error("Error closing Discord session")
	}
	return nil
}

func (h *Handler) onReady(s *discordgo.Session, r *discordgo.Ready) {
	h.log.WithFields(logrus.Fields{
		"user":        r.User.String(),
		"user_id":     r.User.ID,
		"guild_count": len(r.Guilds),
	}).Info("Logged in to Discord")
}

func (h *Handler) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	h.dispatch(h.ctx, m.Message)
}

// dispatch parses a prefix command out of msg and runs it. Messages that are
// not commands, and messages from bots, are ignored.
func (h *Handler) dispatch(ctx context.Context, msg *discordgo.Message) {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return
	}

	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, CommandPrefix) {
		return
	}
	fields, err := splitArgs(strings.TrimPrefix(content, CommandPrefix))
	if err != nil {
		h.log.WithError(err).WithField("discord_id", msg.Author.ID).Info("Ignoring malformed command")
		return
	}
	if len(fields) == 0 {
		return
	}

	cmd, ok := h.commands[fields[0]]
	if !ok {
		return
	}

	h.log.WithFields(logrus.Fields{
		"discord_id": msg.Author.ID,
		"channel_id": msg.ChannelID,
		"command":    fields[0],
	}).Info("Received command")
	cmd(ctx, msg, fields[1:])
}

// reply answers msg in its channel.
func (h *Handler) reply(msg *discordgo.Message, text string) {
	if _, err := h.api.ChannelMessageSendReply(msg.ChannelID, text, msg.Reference()); err != nil {
		h.log.WithError(err).WithField("channel_id", msg.ChannelID).Error("Failed to send reply")
	}
}

// replyFailure answers msg with an error text when failure replies are
// enabled. Otherwise the failure stays in the logs only.
func (h *Handler) replyFailure(msg *discordgo.Message, text string) {
	if h.replyOnFailure {
		h.reply(msg, text)
	}
}

// firstStateGuild returns the id of the first guild the session is connected to.
func firstStateGuild(s *discordgo.Session) func() string {
	return func() string {
		s.State.RLock()
		defer s.State.RUnlock()
		if len(s.State.Guilds) == 0 {
			return ""
		}
		return s.State.Guilds[0].ID
	}
}
