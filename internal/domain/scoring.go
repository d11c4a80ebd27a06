package domain

import "math"

// ProgressPercent returns round(100*completed/total), clamped to [0,100].
// A module without lessons has 0 progress.
func ProgressPercent(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	return clampPercent(int(math.Round(100 * float64(completed) / float64(total))))
}

// MergeProgress folds update into stored: completed lessons become the set union of
// both and the percentage is recomputed over lessonIDs, the module's current lessons.
func MergeProgress(stored, update ModuleProgress, lessonIDs []string) ModuleProgress {
	completed := unionIDs(stored.CompletedLessons, update.CompletedLessons)
	done := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	count := 0
	for _, id := range lessonIDs {
		if _, ok := done[id]; ok {
			count++
		}
	}
	return ModuleProgress{
		CompletedLessons: completed,
		Progress:         ProgressPercent(count, len(lessonIDs)),
		LastUpdated:      update.LastUpdated,
	}
}

func unionIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// ScoreAnswers scores answers (keyed by question index) against the quiz.
// An answer is correct only on an exact string match. A quiz worth 0 points scores 0.
func ScoreAnswers(quiz Quiz, answers map[int]string) (score, earned int) {
	for i, q := range quiz.Questions {
		if a, ok := answers[i]; ok && a == q.CorrectAnswer {
			earned += q.Points
		}
	}
	if quiz.TotalPoints <= 0 {
		return 0, earned
	}
	return clampPercent(int(math.Round(100 * float64(earned) / float64(quiz.TotalPoints)))), earned
}

// Passed reports whether score meets the quiz threshold.
func Passed(quiz Quiz, score int) bool {
	return score >= quiz.PassingScore
}

// LatestAttempt returns the most recent attempt for courseID.
func LatestAttempt(attempts []ExamAttempt, courseID string) (ExamAttempt, bool) {
	var (
		latest ExamAttempt
		found  bool
	)
	for _, a := range attempts {
		if a.CourseID != courseID {
			continue
		}
		if !found || a.Date.After(latest.Date) {
			latest = a
			found = true
		}
	}
	return latest, found
}

// ModuleStatus derives the dashboard status. A module is completed only when every
// lesson is done and the latest attempt passed.
func ModuleStatus(progress int, latestPassed bool) string {
	switch {
	case progress == 100 && latestPassed:
		return StatusCompleted
	case progress > 0 || latestPassed:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
