package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"linkblocksbot/internal/linkblocks"
)

// User-facing texts.
const (
	AuthLinkText         = "Please open this link to authenticate: %s"
	CheckDMsText         = "Please check your DMs for the authentication link."
	NotAuthenticatedText = "You are not authenticated with Linkblocks. Please authenticate using /linkblocks_auth."
	ImportSuccessText    = "Successfully imported to Linkblocks!"
	WithTagUsageText     = "Usage: /import_to_linkblocks_with_tag <tag> <urls...>"

	StoreUnavailableText = "Your Linkblocks credentials could not be read right now. Please try again later."
	RequestFailedText    = "Could not reach Linkblocks. Please try again later."
	ImportRejectedText   = "Linkblocks did not accept the import (status %d)."
)

// Direct messages have no channel name; their tag names the other party.
const (
	dmChannelTag     = "Direct Message with %s"
	unknownRecipient = "Unknown User"
)

// linkblocksAuth sends the invoking user a DM with their authentication link.
// Failures end the command without a reply.
func (h *Handler) linkblocksAuth(ctx context.Context, msg *discordgo.Message, args []string) {
	log := h.log.WithFields(logrus.Fields{
		"discord_id": msg.Author.ID,
		"command":    "linkblocks_auth",
	})

	guildID := h.firstGuild()
	if guildID == "" {
		log.Warn("Bot is not connected to any guild, cannot resolve user")
		return
	}

	member, err := h.api.GuildMember(guildID, msg.Author.ID)
	if err != nil {
		log.WithError(err).WithField("guild_id", guildID).Warn("Failed to resolve user in guild")
		return
	}

	dm, err := h.api.UserChannelCreate(member.User.ID)
	if err != nil {
		log.WithError(err).Error("Failed to open DM channel")
		return
	}

	link := fmt.Sprintf(AuthLinkText, h.linkblocks.AuthURL(msg.Author.ID))
	if _, err := h.api.ChannelMessageSend(dm.ID, link); err != nil {
		log.WithError(err).Error("Failed to send authentication link")
		return
	}

	h.reply(msg, CheckDMsText)
}

// importToLinkblocks imports args as URLs tagged with the channel name.
func (h *Handler) importToLinkblocks(ctx context.Context, msg *discordgo.Message, args []string) {
	h.importURLs(ctx, msg, "import_to_linkblocks", func() (string, error) {
		return h.channelName(msg.ChannelID)
	}, args)
}

// importToLinkblocksWithTag imports args[1:] as URLs tagged with args[0].
func (h *Handler) importToLinkblocksWithTag(ctx context.Context, msg *discordgo.Message, args []string) {
	if len(args) == 0 {
		h.reply(msg, WithTagUsageText)
		return
	}
	tag := args[0]
	h.importURLs(ctx, msg, "import_to_linkblocks_with_tag", func() (string, error) {
		return tag, nil
	}, args[1:])
}

// importURLs looks up the invoking user's credentials and posts urls to
// Linkblocks. The tag is only resolved once the user is known to be
// authenticated.
func (h *Handler) importURLs(ctx context.Context, msg *discordgo.Message, command string, resolveTag func() (string, error), urls []string) {
	log := h.log.WithFields(logrus.Fields{
		"discord_id": msg.Author.ID,
		"command":    command,
	})

	rec, found, err := h.repo.Lookup(ctx, msg.Author.ID)
	if err != nil {
		log.WithError(err).Error("Failed to look up credentials")
		h.replyFailure(msg, StoreUnavailableText)
		return
	}
	if !found {
		log.Info("User is not authenticated")
		h.reply(msg, NotAuthenticatedText)
		return
	}

	tag, err := resolveTag()
	if err != nil {
		log.WithError(err).Error("Failed to resolve tag")
		h.replyFailure(msg, RequestFailedText)
		return
	}
	log = log.WithField("tag", tag)

	status, err := h.linkblocks.AddBookmarks(ctx, linkblocks.AddBookmarkRequest{
		APIKey: rec.APIKey,
		Tag:    tag,
		UserID: rec.UserID,
		URLs:   urls,
	})
	if err != nil {
		log.WithError(err).Error("Failed to import bookmarks")
		h.replyFailure(msg, RequestFailedText)
		return
	}
	if !linkblocks.IsSuccess(status) {
		log.WithField("status", status).Warn("Linkblocks rejected the import")
		h.replyFailure(msg, fmt.Sprintf(ImportRejectedText, status))
		return
	}

	log.WithField("url_count", len(urls)).Info("Imported bookmarks")
	h.reply(msg, ImportSuccessText)
}

// channelName returns the name used as the default tag for a channel.
func (h *Handler) channelName(channelID string) (string, error) {
	ch, err := h.api.Channel(channelID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	if ch.Type != discordgo.ChannelTypeDM {
		return ch.Name, nil
	}
	recipient := unknownRecipient
	if len(ch.Recipients) > 0 && ch.Recipients[0] != nil {
		recipient = ch.Recipients[0].String()
	}
	return fmt.Sprintf(dmChannelTag, recipient), nil
}
