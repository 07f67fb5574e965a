// Package plan holds the core pipeline: profile normalization, the
// fingerprint cache key, and the entitlement-gated generation orchestrator.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gym-coach-bot/internal/models"
)

// Snapshot is the canonical, order-independent form of a profile. Two
// semantically identical profiles always normalize to the same Snapshot and
// therefore the same fingerprint.
type Snapshot struct {
	Age                 int
	HeightCm            float64
	WeightKg            float64
	Gender              string
	Goal                string
	DietaryRestrictions []string
	PreferredFoods      []string
}

// NormalizeProfile maps the raw collected profile to its canonical snapshot:
// Persian/Arabic-Indic digits folded to ASCII, whitespace collapsed, heights
// given in meters converted to centimeters, multi-select answers split,
// deduplicated and sorted.
func NormalizeProfile(p *models.Profile) Snapshot {
	height := p.HeightCm
	if height > 0 && height < 3 {
		height *= 100
	}

	return Snapshot{
		Age:                 p.Age,
		HeightCm:            height,
		WeightKg:            p.WeightKg,
		Gender:              canonicalGender(p.Gender),
		Goal:                normalizeText(p.Goal),
		DietaryRestrictions: normalizeList(p.DietaryRestrictions),
		PreferredFoods:      normalizeList(p.PreferredFoods),
	}
}

// Fingerprint derives the cache key. It includes the tenant and user ids so
// identical profiles in different gyms (or for different users) never share
// a cached plan.
func Fingerprint(tenantID string, userID int64, s Snapshot, planType models.PlanType) string {
	fields := []string{
		"v1",
		tenantID,
		strconv.FormatInt(userID, 10),
		string(planType),
		strconv.Itoa(s.Age),
		strconv.FormatFloat(s.HeightCm, 'f', 1, 64),
		strconv.FormatFloat(s.WeightKg, 'f', 1, 64),
		s.Gender,
		s.Goal,
		strings.Join(s.DietaryRestrictions, ","),
		strings.Join(s.PreferredFoods, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// ParseNumber reads a number the way users type it: Persian or ASCII
// digits, either decimal separator.
func ParseNumber(text string) (float64, error) {
	t := normalizeText(text)
	t = strings.ReplaceAll(t, "٫", ".")
	t = strings.ReplaceAll(t, ",", ".")
	return strconv.ParseFloat(t, 64)
}

func normalizeText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case r >= '۰' && r <= '۹': // Persian digits
			b.WriteRune('0' + (r - '۰'))
		case r >= '٠' && r <= '٩': // Arabic-Indic digits
			b.WriteRune('0' + (r - '٠'))
		case r == '‌': // zero-width non-joiner
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var noneAnswers = map[string]bool{
	"ندارد": true,
	"ندارم": true,
	"هیچ":   true,
	"نه":    true,
	"-":     true,
}

func normalizeList(raw string) []string {
	raw = strings.ReplaceAll(raw, "،", ",")
	raw = strings.ReplaceAll(raw, "؛", ",")
	raw = strings.ReplaceAll(raw, ";", ",")

	seen := make(map[string]bool)
	var items []string
	for _, part := range strings.Split(raw, ",") {
		item := normalizeText(part)
		if item == "" || noneAnswers[item] || seen[item] {
			continue
		}
		seen[item] = true
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

func canonicalGender(raw string) string {
	switch strings.ToLower(normalizeText(raw)) {
	case "مرد", "آقا", "male", "m":
		return "مرد"
	case "زن", "خانم", "female", "f":
		return "زن"
	default:
		return strings.ToLower(normalizeText(raw))
	}
}

// BuildPrompt renders the Persian coach prompt for the provider.
func BuildPrompt(s Snapshot, planType models.PlanType) string {
	var ask string
	switch planType {
	case models.PlanNutrition:
		ask = "لطفاً یک برنامه تغذیه‌ای کامل هفتگی با وعده‌های غذایی، کالری تقریبی هر وعده و نکات آب‌رسانی بدهید."
	default:
		ask = "لطفاً برنامه هفتگی تمرینی، تمرینات هر روز، ست و تکرار، و نکات ایمنی بدهید."
	}

	restrictions := "ندارد"
	if len(s.DietaryRestrictions) > 0 {
		restrictions = strings.Join(s.DietaryRestrictions, "، ")
	}
	foods := "نامشخص"
	if len(s.PreferredFoods) > 0 {
		foods = strings.Join(s.PreferredFoods, "، ")
	}

	return fmt.Sprintf(
		"شما یک مربی و متخصص تغذیه حرفه‌ای هستید. برای کاربر زیر یک برنامه به زبان فارسی بنویسید:\n\n"+
			"سن: %d\nقد: %.0f سانتی‌متر\nوزن: %.1f کیلوگرم\nجنسیت: %s\nهدف: %s\n"+
			"محدودیت غذایی: %s\nغذاهای مورد علاقه: %s\n\n%s",
		s.Age, s.HeightCm, s.WeightKg, orUnknown(s.Gender), orUnknown(s.Goal),
		restrictions, foods, ask,
	)
}

func orUnknown(s string) string {
	if s == "" {
		return "نامشخص"
	}
	return s
}
