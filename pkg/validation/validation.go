package validation

import (
	"errors"
	"strings"

	"github.com/rivo/uniseg"
)

// WhatsApp rejects text bodies beyond this many visible characters; counted
// in grapheme clusters so emoji and combining marks are not over-counted.
const MaxMessageGraphemes = 4096

// ValidateMessage ensures outbound text is non-empty and within the length
// limit WhatsApp enforces on text messages.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("message cannot be empty")
	}
	if uniseg.GraphemeClusterCount(message) > MaxMessageGraphemes {
		return errors.New("message exceeds the maximum length of a WhatsApp text message")
	}
	return nil
}

// ValidateGroupTarget ensures at least one of group id / group name is given,
// and that an explicit id looks like a group JID.
func ValidateGroupTarget(groupID string, groupName string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" && strings.TrimSpace(groupName) == "" {
		return errors.New("either groupId or groupName is required")
	}
	if groupID != "" && !strings.HasSuffix(groupID, "@g.us") {
		return errors.New("groupId must be a group JID ending in @g.us")
	}
	return nil
}
