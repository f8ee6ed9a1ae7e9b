package service

import (
	"time"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const (
	LearningPhaseMinMeals   = 21
	LearningPhaseMinAgeDays = 7
)

// LearningPhaseComplete is the exit rule for the observation window: enough meals or enough days, whichever comes first.
func LearningPhaseComplete(totalMeals, accountAgeDays int) bool {
	return totalMeals >= LearningPhaseMinMeals || accountAgeDays >= LearningPhaseMinAgeDays
}

// AdvancePhase moves LEARNING to ACTIVE when the exit rule holds. ACTIVE is terminal.
// The second return value is true only on the update that made the transition.
func AdvancePhase(s model.UserStats, now time.Time) (model.UserStats, bool) {
	if s.LearningPhaseComplete {
		s.Phase = model.PhaseActive
		return s, false
	}
	if !LearningPhaseComplete(s.TotalMeals, s.AccountAgeDays) {
		s.Phase = model.PhaseLearning
		return s, false
	}
	s.LearningPhaseComplete = true
	s.Phase = model.PhaseActive
	at := now
	s.GraduatedAt = &at
	return s, true
}
