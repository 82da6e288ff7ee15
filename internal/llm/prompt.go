package llm

import (
	"fmt"
	"strings"

	"github.com/mindsprite/mindsprite/internal/core"
)

var strategyHints = map[core.EmpathyStrategy]string{
	core.StrategyCelebration: "真诚地为对方高兴，和对方一起庆祝",
	core.StrategyValidation:  "先肯定对方的感受是合理的，再温和回应",
	core.StrategyComfort:     "以安慰为主，让对方感到被理解、不孤单",
	core.StrategySolution:    "在共情之后，给出一两个具体可行的小建议",
	core.StrategyCompanion:   "安静地陪伴和倾听，多问少说",
}

var toneHints = map[core.ResponseTone]string{
	core.ToneJoyful:        "轻快、活泼",
	core.ToneWarm:          "温暖、亲切",
	core.ToneGentle:        "轻柔、缓慢",
	core.ToneUnderstanding: "理解、耐心",
	core.ToneEncouraging:   "鼓励、肯定",
	core.ToneCalming:       "平和、让人安定",
	core.ToneSupportive:    "支持、友善",
}

// BuildSystemPrompt renders the persona plus the classifier's strategy and
// tone hints and the relationship stage of the session.
func BuildSystemPrompt(persona string, analysis core.EmotionAnalysis, profile *core.UserProfile, title string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "用户当前的主要情绪：%s（强度 %.1f/10）。\n", analysis.PrimaryEmotion, analysis.Intensity)
	if len(analysis.SecondaryEmotions) > 0 {
		names := make([]string, 0, len(analysis.SecondaryEmotions))
		for _, s := range analysis.SecondaryEmotions {
			names = append(names, string(s.Emotion))
		}
		fmt.Fprintf(&b, "同时带有：%s。\n", strings.Join(names, "、"))
	}
	if hint, ok := strategyHints[analysis.EmpathyStrategy]; ok {
		fmt.Fprintf(&b, "回应方式：%s。\n", hint)
	}
	if hint, ok := toneHints[analysis.ResponseTone]; ok {
		fmt.Fprintf(&b, "语气：%s。\n", hint)
	}
	if profile != nil {
		fmt.Fprintf(&b, "你们的关系：Lv.%d「%s」，已经聊过 %d 次。", profile.IntimacyLevel, title, profile.TotalInteractions)
	}
	return strings.TrimSpace(b.String())
}
