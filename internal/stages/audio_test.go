package stages

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpokenTrack_DropsBrollKeepsOrder(t *testing.T) {
	script := "[AVATAR:Welcome back.] [BROLL:city skyline drone shot] [VO:Today we talk testing.] And that's the plan."
	require.Equal(t, "Welcome back. Today we talk testing. And that's the plan.", spokenTrack(script))
}

func TestSpokenTrack_UnmarkedScriptIsAllSpoken(t *testing.T) {
	require.Equal(t, "just plain narration", spokenTrack("just plain narration"))
}

func TestSpokenTrack_BrollOnlyScriptIsEmpty(t *testing.T) {
	require.Equal(t, "", spokenTrack("[BROLL:clip one][BROLL:clip two]"))
}
