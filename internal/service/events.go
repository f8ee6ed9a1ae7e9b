package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

const (
	EventPortionClamped   = "portion_clamped"
	EventMealCapRescaled  = "meal_cap_rescaled"
	EventPhaseTransition  = "learning_phase_transition"
	EventCandidateTimeout = "candidate_lookup_degraded"
)

type ClampEvent struct {
	UserID       string  `json:"user_id,omitempty"`
	MealID       string  `json:"meal_id,omitempty"`
	FoodName     string  `json:"food_name"`
	Category     string  `json:"category"`
	RawGrams     float64 `json:"raw_grams"`
	AppliedGrams float64 `json:"applied_grams"`
	Reason       string  `json:"reason"`
}

type MealCapEvent struct {
	UserID      string  `json:"user_id,omitempty"`
	MealID      string  `json:"meal_id,omitempty"`
	OriginalSum float64 `json:"original_sum_g"`
	CapGrams    float64 `json:"cap_g"`
	Factor      float64 `json:"factor"`
}

type PhaseTransitionEvent struct {
	UserID         string      `json:"user_id"`
	From           model.Phase `json:"from"`
	To             model.Phase `json:"to"`
	TotalMeals     int         `json:"total_meals"`
	AccountAgeDays int         `json:"account_age_days"`
	At             time.Time   `json:"at"`
}

type CandidateDegradedEvent struct {
	UserID   string         `json:"user_id"`
	Nutrient model.Nutrient `json:"nutrient"`
	Err      string         `json:"error"`
}

// EventSink receives telemetry records. Implementations must be safe for concurrent use.
type EventSink interface {
	PortionClamped(ClampEvent)
	MealCapRescaled(MealCapEvent)
	PhaseTransition(PhaseTransitionEvent)
	CandidateDegraded(CandidateDegradedEvent)
}

type nopSink struct{}

func (nopSink) PortionClamped(ClampEvent)                {}
func (nopSink) MealCapRescaled(MealCapEvent)             {}
func (nopSink) PhaseTransition(PhaseTransitionEvent)     {}
func (nopSink) CandidateDegraded(CandidateDegradedEvent) {}

func NopSink() EventSink { return nopSink{} }

type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log.Named("telemetry")}
}

func (s *ZapSink) PortionClamped(e ClampEvent) {
	s.log.Info("portion clamped",
		zap.String("event", EventPortionClamped),
		zap.String("user_id", e.UserID),
		zap.String("meal_id", e.MealID),
		zap.String("food", e.FoodName),
		zap.String("category", e.Category),
		zap.Float64("raw_g", e.RawGrams),
		zap.Float64("applied_g", e.AppliedGrams),
		zap.String("reason", e.Reason),
	)
}

func (s *ZapSink) MealCapRescaled(e MealCapEvent) {
	s.log.Info("meal cap rescaled",
		zap.String("event", EventMealCapRescaled),
		zap.String("user_id", e.UserID),
		zap.String("meal_id", e.MealID),
		zap.Float64("original_sum_g", e.OriginalSum),
		zap.Float64("cap_g", e.CapGrams),
		zap.Float64("factor", e.Factor),
	)
}

func (s *ZapSink) PhaseTransition(e PhaseTransitionEvent) {
	s.log.Info("learning phase transition",
		zap.String("event", EventPhaseTransition),
		zap.String("user_id", e.UserID),
		zap.String("from", string(e.From)),
		zap.String("to", string(e.To)),
		zap.Int("total_meals", e.TotalMeals),
		zap.Int("account_age_days", e.AccountAgeDays),
		zap.Time("at", e.At),
	)
}

func (s *ZapSink) CandidateDegraded(e CandidateDegradedEvent) {
	s.log.Warn("candidate lookup degraded",
		zap.String("event", EventCandidateTimeout),
		zap.String("user_id", e.UserID),
		zap.String("nutrient", e.Nutrient.String()),
		zap.String("error", e.Err),
	)
}

type RecordedEvents struct {
	Clamps      []ClampEvent             `json:"clamps,omitempty"`
	MealCaps    []MealCapEvent           `json:"meal_caps,omitempty"`
	Transitions []PhaseTransitionEvent   `json:"transitions,omitempty"`
	Degraded    []CandidateDegradedEvent `json:"degraded,omitempty"`
}

// RecordingSink keeps every event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events RecordedEvents
}

func (s *RecordingSink) PortionClamped(e ClampEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.Clamps = append(s.events.Clamps, e)
}

func (s *RecordingSink) MealCapRescaled(e MealCapEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.MealCaps = append(s.events.MealCaps, e)
}

func (s *RecordingSink) PhaseTransition(e PhaseTransitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.Transitions = append(s.events.Transitions, e)
}

func (s *RecordingSink) CandidateDegraded(e CandidateDegradedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.Degraded = append(s.events.Degraded, e)
}

func (s *RecordingSink) Events() RecordedEvents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return RecordedEvents{
		Clamps:      append([]ClampEvent(nil), s.events.Clamps...),
		MealCaps:    append([]MealCapEvent(nil), s.events.MealCaps...),
		Transitions: append([]PhaseTransitionEvent(nil), s.events.Transitions...),
		Degraded:    append([]CandidateDegradedEvent(nil), s.events.Degraded...),
	}
}

// Replay sends every recorded event to sink, grouped by kind in arrival order.
func (s *RecordingSink) Replay(sink EventSink) {
	if sink == nil {
		return
	}
	e := s.Events()
	for _, c := range e.Clamps {
		sink.PortionClamped(c)
	}
	for _, m := range e.MealCaps {
		sink.MealCapRescaled(m)
	}
	for _, t := range e.Transitions {
		sink.PhaseTransition(t)
	}
	for _, d := range e.Degraded {
		sink.CandidateDegraded(d)
	}
}

type MultiSink []EventSink

func (m MultiSink) PortionClamped(e ClampEvent) {
	for _, s := range m {
		s.PortionClamped(e)
	}
}

func (m MultiSink) MealCapRescaled(e MealCapEvent) {
	for _, s := range m {
		s.MealCapRescaled(e)
	}
}

func (m MultiSink) PhaseTransition(e PhaseTransitionEvent) {
	for _, s := range m {
		s.PhaseTransition(e)
	}
}

func (m MultiSink) CandidateDegraded(e CandidateDegradedEvent) {
	for _, s := range m {
		s.CandidateDegraded(e)
	}
}
