package prompts

import "math/rand"

// pool is the fixed set of daily prompt templates.
var pool = []string{
	"🌅 Good morning! What's one thing you're excited about today?",
	"💪 What's a small win you had yesterday?",
	"🎯 Share one goal you're working towards this week!",
	"🧠 What's something new you learned recently?",
	"✨ What's bringing you joy today?",
	"🚀 What's one challenge you're ready to tackle?",
	"🙏 What's something you're grateful for right now?",
	"💡 Share a tip or insight that might help others!",
	"🔥 What's keeping you motivated this week?",
	"🌟 Describe your ideal day in 3 words!",
}

// Pick selects one prompt uniformly at random. Selection is stateless and
// not required to be deterministic.
func Pick() string {
	return pool[rand.Intn(len(pool))]
}

// All returns the full prompt pool in order.
func All() []string {
	out := make([]string, len(pool))
	copy(out, pool)
	return out
}
