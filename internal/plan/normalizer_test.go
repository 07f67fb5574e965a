package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gym-coach-bot/internal/models"
)

func baseProfile() *models.Profile {
	return &models.Profile{
		TenantID:            "gym1",
		UserID:              42,
		Age:                 30,
		HeightCm:            180,
		WeightKg:            82.5,
		Gender:              "مرد",
		Goal:                "عضله‌سازی",
		DietaryRestrictions: "لاکتوز، گلوتن",
		PreferredFoods:      "مرغ، برنج، سبزی",
	}
}

func TestFingerprint_StableAcrossListOrdering(t *testing.T) {
	a := baseProfile()
	b := baseProfile()
	b.DietaryRestrictions = "گلوتن، لاکتوز"
	b.PreferredFoods = "سبزی، مرغ، برنج"

	fpA := Fingerprint("gym1", 42, NormalizeProfile(a), models.PlanWorkout)
	fpB := Fingerprint("gym1", 42, NormalizeProfile(b), models.PlanWorkout)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_StableAcrossDigitScriptAndWhitespace(t *testing.T) {
	a := baseProfile()
	b := baseProfile()
	b.Goal = "  عضله‌سازی "
	b.PreferredFoods = "مرغ ،برنج،  سبزی"

	fpA := Fingerprint("gym1", 42, NormalizeProfile(a), models.PlanNutrition)
	fpB := Fingerprint("gym1", 42, NormalizeProfile(b), models.PlanNutrition)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_MetersNormalizedToCentimeters(t *testing.T) {
	a := baseProfile()
	b := baseProfile()
	b.HeightCm = 1.80

	fpA := Fingerprint("gym1", 42, NormalizeProfile(a), models.PlanWorkout)
	fpB := Fingerprint("gym1", 42, NormalizeProfile(b), models.PlanWorkout)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_ScopedByTenantUserAndType(t *testing.T) {
	snap := NormalizeProfile(baseProfile())

	base := Fingerprint("gym1", 42, snap, models.PlanWorkout)
	assert.NotEqual(t, base, Fingerprint("gym2", 42, snap, models.PlanWorkout), "tenant must separate caches")
	assert.NotEqual(t, base, Fingerprint("gym1", 43, snap, models.PlanWorkout), "user must separate caches")
	assert.NotEqual(t, base, Fingerprint("gym1", 42, snap, models.PlanNutrition), "plan type must separate caches")
}

func TestFingerprint_ChangedProfileChangesKey(t *testing.T) {
	a := baseProfile()
	b := baseProfile()
	b.WeightKg = 78

	fpA := Fingerprint("gym1", 42, NormalizeProfile(a), models.PlanWorkout)
	fpB := Fingerprint("gym1", 42, NormalizeProfile(b), models.PlanWorkout)
	assert.NotEqual(t, fpA, fpB)
}

func TestNormalizeProfile_DropsNoneAnswers(t *testing.T) {
	p := baseProfile()
	p.DietaryRestrictions = "ندارد"

	snap := NormalizeProfile(p)
	assert.Empty(t, snap.DietaryRestrictions)
}

func TestNormalizeProfile_CanonicalGender(t *testing.T) {
	cases := map[string]string{
		"مرد":  "مرد",
		"آقا":  "مرد",
		"Male": "مرد",
		"زن":   "زن",
		"خانم": "زن",
	}
	for in, want := range cases {
		p := baseProfile()
		p.Gender = in
		assert.Equal(t, want, NormalizeProfile(p).Gender, "input %q", in)
	}
}

func TestParseNumber_PersianDigits(t *testing.T) {
	n, err := ParseNumber("۱۷۵")
	require.NoError(t, err)
	assert.Equal(t, 175.0, n)

	n, err = ParseNumber("۸۲٫۵")
	require.NoError(t, err)
	assert.Equal(t, 82.5, n)

	_, err = ParseNumber("هفتاد")
	assert.Error(t, err)
}

func TestBuildPrompt_PerPlanType(t *testing.T) {
	snap := NormalizeProfile(baseProfile())

	workout := BuildPrompt(snap, models.PlanWorkout)
	nutrition := BuildPrompt(snap, models.PlanNutrition)

	assert.NotEqual(t, workout, nutrition)
	assert.True(t, strings.Contains(workout, "تمرین"))
	assert.True(t, strings.Contains(nutrition, "تغذیه"))
	assert.True(t, strings.Contains(workout, "180"))
}
