package jobs

import (
	"fmt"
	"strings"

	"questchat/internal/repo"
)

func formatPromptMessage(day, prompt string) string {
	return fmt.Sprintf("🌟 **Daily Quest** (%s)\n\n%s\n\n💡 *First reply counts toward your streak!*", day, prompt)
}

func formatCongratsMessage(name string, threshold, percentage int, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 **Congratulations %s!** 🎉\n\n", name)
	fmt.Fprintf(&b, "You've reached a **%d-day streak!** 🔥\n\n", threshold)
	fmt.Fprintf(&b, "Here's your reward: **%d%% OFF**\n", percentage)
	fmt.Fprintf(&b, "Promo Code: `%s`\n\n", code)
	b.WriteString("Keep going for more rewards! 🚀")
	return b.String()
}

var medals = []string{"🥇", "🥈", "🥉"}

func formatLeaderboardMessage(board []repo.LeaderboardEntry) string {
	var b strings.Builder
	b.WriteString("📊 **Weekly Quest Leaderboard** 📊\n\n")
	for i, entry := range board {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&b, "%s %s — %d quests this week (best streak: %d)\n",
			rank, displayName(entry.Username, entry.PlatformUserID), entry.WeekCount, entry.Best)
	}
	b.WriteString("\nNew week starts now. See you at tomorrow's quest! 🌟")
	return b.String()
}

// displayName prefers the stored username; otherwise it shows an anonymised
// tail of the platform id.
func displayName(username *string, platformUserID string) string {
	if username != nil && *username != "" {
		return *username
	}
	tail := platformUserID
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	return "User " + tail
}

// codeSuffix derives the member-identifying part of a promo code.
func codeSuffix(user *repo.User) string {
	raw := user.PlatformUserID
	if user.Username != nil && *user.Username != "" {
		raw = *user.Username
	}
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		s = "MEMBER"
	}
	if len(s) > 12 {
		s = s[:12]
	}
	return strings.ToUpper(s)
}
