// Package channel classifies channel names and decides whether an
// identity may subscribe to them. Authorization is a pure function over
// the name and the identity; nothing here holds state.
package channel

import (
	"strconv"
	"strings"

	"github.com/relayhub/fanout/internal/identity"
)

// Kind is a channel name's recognized shape.
type Kind int

const (
	KindUnknown Kind = iota
	KindPublic
	KindPrivateUser
	KindAdmin
	KindModerator
	KindForumOrThread
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindPrivateUser:
		return "private_user"
	case KindAdmin:
		return "admin"
	case KindModerator:
		return "moderator"
	case KindForumOrThread:
		return "forum"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Classification is the result of parsing a channel name.
type Classification struct {
	Kind   Kind
	Suffix string
	// OwnerUserID is set only for KindPrivateUser.
	OwnerUserID int64
}

// Classify parses a channel name into its recognized shape. Unknown or
// malformed names classify as KindUnknown.
func Classify(channel string) Classification {
	if channel == "" {
		return Classification{Kind: KindUnknown}
	}

	switch {
	case hasPrefix(channel, "public."):
		suffix := channel[len("public."):]
		if suffix == "" {
			return Classification{Kind: KindUnknown}
		}
		return Classification{Kind: KindPublic, Suffix: suffix}

	case hasPrefix(channel, "private-user."):
		suffix := channel[len("private-user."):]
		id, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil || suffix == "" {
			return Classification{Kind: KindUnknown}
		}
		return Classification{Kind: KindPrivateUser, Suffix: suffix, OwnerUserID: id}

	case hasPrefix(channel, "admin."):
		suffix := channel[len("admin."):]
		if suffix == "" {
			return Classification{Kind: KindUnknown}
		}
		return Classification{Kind: KindAdmin, Suffix: suffix}

	case hasPrefix(channel, "moderator."):
		suffix := channel[len("moderator."):]
		if suffix == "" {
			return Classification{Kind: KindUnknown}
		}
		return Classification{Kind: KindModerator, Suffix: suffix}

	case hasPrefix(channel, "forum."):
		suffix := channel[len("forum."):]
		if suffix == "" {
			return Classification{Kind: KindUnknown}
		}
		return Classification{Kind: KindForumOrThread, Suffix: suffix}

	case hasPrefix(channel, "thread."):
		suffix := channel[len("thread."):]
		if suffix == "" {
			return Classification{Kind: KindUnknown}
		}
		return Classification{Kind: KindForumOrThread, Suffix: suffix}

	case hasPrefix(channel, "system."):
		suffix := channel[len("system."):]
		if suffix == "" {
			return Classification{Kind: KindUnknown}
		}
		return Classification{Kind: KindSystem, Suffix: suffix}

	default:
		return Classification{Kind: KindUnknown}
	}
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// Authorize decides whether id may subscribe to channelName. It is a
// pure function of its inputs: repeated calls with the same arguments
// always agree.
func Authorize(id identity.Identity, channelName string) bool {
	c := Classify(channelName)

	switch c.Kind {
	case KindPublic:
		return true // any authenticated user

	case KindPrivateUser:
		// Exact ownership wins over role: a non-admin cannot read another
		// user's private channel, and admin does not implicitly own it either.
		return c.OwnerUserID == id.UserID

	case KindAdmin, KindSystem:
		return id.Role == identity.RoleAdmin

	case KindModerator:
		return id.Role == identity.RoleAdmin || id.Role == identity.RoleModerator

	case KindForumOrThread:
		return id.Role != identity.RoleGuest

	default:
		return false
	}
}
