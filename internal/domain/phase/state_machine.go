// Пакет phase — конечный автомат фаз прогона синхронизации.
//
// Линейный жизненный цикл:
//
//	init → fetch → plan → download → evict → done
//
// Из любой незавершённой фазы допустим переход в failed.
// done и failed — конечные фазы. Пробный прогон (dry run)
// переходит из plan сразу в done.
//
// Потокобезопасен через sync.RWMutex.
package phase

import (
	"fmt"
	"sync"
	"time"
)

// Phase — фаза прогона.
type Phase string

const (
	Init     Phase = "init"
	Fetch    Phase = "fetch"
	Plan     Phase = "plan"
	Download Phase = "download"
	Evict    Phase = "evict"
	Done     Phase = "done"
	Failed   Phase = "failed"
)

// TransitionRecord — запись о переходе между фазами.
type TransitionRecord struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[Phase]map[Phase]bool{
	Init:     {Fetch: true, Failed: true},
	Fetch:    {Plan: true, Failed: true},
	Plan:     {Download: true, Done: true, Failed: true},
	Download: {Evict: true, Failed: true},
	Evict:    {Done: true, Failed: true},
	Done:     {},
	Failed:   {},
}

// StateMachine — автомат фаз одного прогона.
type StateMachine struct {
	mu      sync.RWMutex
	current Phase
	history []TransitionRecord
	now     func() time.Time
}

// NewStateMachine создаёт автомат в фазе init.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: Init,
		history: make([]TransitionRecord, 0, len(validTransitions)),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Current возвращает текущую фазу.
func (sm *StateMachine) Current() Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// IsTerminal сообщает, завершён ли прогон.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(validTransitions[sm.current]) == 0
}

// TransitionTo выполняет переход в указанную фазу.
func (sm *StateMachine) TransitionTo(target Phase) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := validTransitions[target]; !ok {
		return &TransitionError{
			Code:    "INVALID_PHASE",
			Message: fmt.Sprintf("неизвестная фаза: %q", target),
		}
	}
	if !validTransitions[sm.current][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.current, target),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		Timestamp: sm.now(),
	})
	sm.current = target
	return nil
}

// Fail переводит автомат в failed, если прогон ещё не завершён.
func (sm *StateMachine) Fail() {
	_ = sm.TransitionTo(Failed)
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError — ошибка перехода между фазами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_PHASE, INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
