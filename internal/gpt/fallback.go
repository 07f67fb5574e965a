package gpt

import "context"

// Fallback serves a generic program when no provider key is configured, so
// a fresh deployment still answers end to end.
type Fallback struct{}

func (Fallback) Name() string { return "fallback" }

func (Fallback) Model() string { return "static" }

func (Fallback) Generate(_ context.Context, _ string) (string, error) {
	return "🏋️‍♂️ برنامه تمرینی نمونه\n\n" +
		"🔹 برنامه ۳ روزه در هفته:\n" +
		"روز ۱: حرکت‌های سینه و سرشانه (۳ ست × ۱۰-۱۲ تکرار)\n" +
		"روز ۲: پشت و جلو بازو\n" +
		"روز ۳: پاها\n\n" +
		"🥗 تغذیه: پروتئین کافی، سبزیجات، آب کافی.\n\n" +
		"توضیح: برای برنامه دقیق‌تر، کلید OpenAI را در تنظیمات قرار دهید.", nil
}
