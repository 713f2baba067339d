package realtime

// GroupTag describes where a message sits inside a run of consecutive
// messages from the same sender. Rendering uses it to cluster bubbles.
type GroupTag string

// Grouping positions. System messages are excluded from grouping and tagged
// GroupNone; they also break the runs on either side.
const (
	GroupSingle GroupTag = "single"
	GroupTop    GroupTag = "top"
	GroupMiddle GroupTag = "middle"
	GroupBottom GroupTag = "bottom"
	GroupNone   GroupTag = "none"
)

// GroupTags derives a grouping tag per message from the linear sequence. The
// function is pure: same input, same tags.
func GroupTags(messages []Message) []GroupTag {
	tags := make([]GroupTag, len(messages))
	for i, msg := range messages {
		if msg.Kind == KindSystem {
			tags[i] = GroupNone
			continue
		}

		prev := sameSender(messages, i, i-1)
		next := sameSender(messages, i, i+1)

		switch {
		case prev && next:
			tags[i] = GroupMiddle
		case next:
			tags[i] = GroupTop
		case prev:
			tags[i] = GroupBottom
		default:
			tags[i] = GroupSingle
		}
	}
	return tags
}

func sameSender(messages []Message, i, j int) bool {
	if j < 0 || j >= len(messages) {
		return false
	}
	if messages[j].Kind == KindSystem {
		return false
	}
	return messages[i].SenderID == messages[j].SenderID
}
