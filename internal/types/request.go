package types

// RequestSendGroupMessage targets a group by stable JID (groupId) or by
// display name (groupName); at least one must be present.
type RequestSendGroupMessage struct {
	GroupName string `json:"groupName"`
	GroupID   string `json:"groupId"`
	Message   string `json:"message"`
}
