package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sequence(entries ...[2]string) []Message {
	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		kind := KindText
		if entry[1] == "system" {
			kind = KindSystem
		}
		out = append(out, Message{SenderID: entry[0], Kind: kind})
	}
	return out
}

func TestGroupTagsRuns(t *testing.T) {
	messages := sequence(
		[2]string{"u1", "text"},
		[2]string{"u1", "text"},
		[2]string{"u1", "text"},
		[2]string{"u2", "text"},
		[2]string{"u1", "text"},
	)

	tags := GroupTags(messages)
	require.Equal(t, []GroupTag{GroupTop, GroupMiddle, GroupBottom, GroupSingle, GroupSingle}, tags)
}

func TestGroupTagsSystemExcludedAndBreaksRuns(t *testing.T) {
	messages := sequence(
		[2]string{"u1", "text"},
		[2]string{"", "system"},
		[2]string{"u1", "text"},
	)

	tags := GroupTags(messages)
	require.Equal(t, []GroupTag{GroupSingle, GroupNone, GroupSingle}, tags)
}

func TestGroupTagsDeterministic(t *testing.T) {
	messages := sequence(
		[2]string{"u1", "text"},
		[2]string{"u2", "text"},
		[2]string{"u2", "text"},
		[2]string{"", "system"},
		[2]string{"u2", "text"},
		[2]string{"u3", "text"},
	)

	first := GroupTags(messages)
	second := GroupTags(messages)
	require.Equal(t, first, second)
	require.Equal(t, []GroupTag{GroupSingle, GroupTop, GroupBottom, GroupNone, GroupSingle, GroupSingle}, first)
}

func TestGroupTagsEmpty(t *testing.T) {
	require.Empty(t, GroupTags(nil))
}
