package agent

import (
	"fmt"
	"math/rand"
	"strings"
)

// Canned replies used when no upstream completion is available. Ported from
// the original deployment so the demo experience is unchanged.
var fallbackTemplates = []func(message string, imageCount int) string{
	func(message string, imageCount int) string {
		var b strings.Builder
		b.WriteString("مرحباً! 👋\n\nأنا الدلما AI، مساعدك الذكي من أهل عرعر إلى أهلها.\n\n")
		if message != "" {
			fmt.Fprintf(&b, "سؤالك: \"%s\"\n\n", message)
		}
		if imageCount > 0 {
			fmt.Fprintf(&b, "📸 تم استلام %d صورة.\n\n", imageCount)
		}
		b.WriteString("للأسف، لا يمكنني معالجة طلبك بشكل كامل حالياً لأن مفتاح OpenAI غير مفعّل.\n\nكيف يمكنني مساعدتك اليوم؟")
		return b.String()
	},
	func(message string, imageCount int) string {
		var b strings.Builder
		b.WriteString("أهلاً وسهلاً! 🌊\n\n")
		if message != "" {
			fmt.Fprintf(&b, "شكراً لرسالتك: \"%s\"\n\n", message)
		}
		if imageCount > 0 {
			fmt.Fprintf(&b, "تم استلام %d صورة 📸\n\n", imageCount)
		}
		b.WriteString("أنا الدلما AI، مساعدك الذكي المتطور.\n\nحالياً أعمل في الوضع التجريبي. لتفعيل جميع المميزات، يرجى إضافة مفتاح OpenAI API.\n\n💚 الدلما... زرعها طيب، وخيرها باقٍ")
		return b.String()
	},
	func(message string, imageCount int) string {
		var b strings.Builder
		b.WriteString("مرحباً بك في الدلما AI! 🤖\n\n")
		if message != "" {
			fmt.Fprintf(&b, "سؤالك الرائع: \"%s\"\n\n", message)
		}
		if imageCount > 0 {
			fmt.Fprintf(&b, "🖼️ لقد أرسلت %d صورة\n\n", imageCount)
		}
		b.WriteString("أنا هنا لمساعدتك، لكن للحصول على ردود أكثر تطوراً، يرجى تفعيل OpenAI API.\n\n🌊 من أهل عرعر إلى أهلها")
		return b.String()
	},
}

func fallbackReply(message string, imageCount int) string {
	return fallbackTemplates[rand.Intn(len(fallbackTemplates))](message, imageCount)
}
