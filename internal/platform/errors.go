package platform

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

func apiCode(err error) (int, int) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return 0, 0
	}
	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	code := 0
	if restErr.Message != nil {
		code = restErr.Message.Code
	}
	return status, code
}

// IsNotFound reports whether Discord answered with an unknown entity error.
func IsNotFound(err error) bool {
	status, code := apiCode(err)
	switch code {
	case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownBan, discordgo.ErrCodeUnknownMessage:
		return true
	}
	return status == http.StatusNotFound
}

// Describe turns a REST failure into a sentence safe to show a moderator.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	status, code := apiCode(err)
	switch code {
	case discordgo.ErrCodeMissingPermissions:
		return "I don't have permission to do that. Check my role position and permissions."
	case discordgo.ErrCodeUnknownMember:
		return "That user is not a member of this server."
	case discordgo.ErrCodeUnknownUser:
		return "That user does not exist."
	case discordgo.ErrCodeUnknownBan:
		return "That user is not banned."
	case discordgo.ErrCodeUnknownMessage:
		return "The log message no longer exists."
	}
	switch status {
	case http.StatusForbidden:
		return "I don't have permission to do that."
	case http.StatusNotFound:
		return "Discord could not find that target."
	case http.StatusTooManyRequests:
		return "Discord is rate limiting the bot, try again shortly."
	}
	return "Discord rejected the request."
}
