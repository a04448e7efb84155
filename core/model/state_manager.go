// Package model provides training state and persistence shared by the
// regressor and the trial orchestrator.
package model

import (
	"sync"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
)

// StateManager tracks how far a model has been trained, in a thread-safe manner.
// Checkpoints store its TrainingState copy, not the manager itself.
type StateManager struct {
	mu sync.RWMutex

	GlobalStep  int // optimizer steps applied
	SamplesSeen int // training rows consumed
	Epoch       int // completed epochs
}

// NewStateManager creates a new StateManager instance.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted reports whether at least one optimizer step has been applied.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.GlobalStep > 0
}

// RecordStep counts one optimizer step over batchSize rows and returns the new global step.
func (s *StateManager) RecordStep(batchSize int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GlobalStep++
	s.SamplesSeen += batchSize
	return s.GlobalStep
}

// RecordEpoch marks an epoch as complete.
func (s *StateManager) RecordEpoch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Epoch++
}

// Reset resets the training progress.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GlobalStep = 0
	s.SamplesSeen = 0
	s.Epoch = 0
}

// RequireFitted returns an error if no training step has been applied.
func (s *StateManager) RequireFitted(op string) error {
	if !s.IsFitted() {
		return errors.NewModelError(op, "not fitted", errors.New("no training step has been applied"))
	}
	return nil
}

// TrainingState is a point-in-time copy of StateManager.
type TrainingState struct {
	GlobalStep  int `json:"global_step"`
	SamplesSeen int `json:"samples_seen"`
	Epoch       int `json:"epoch"`
}

// GetState returns the current state.
func (s *StateManager) GetState() TrainingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TrainingState{
		GlobalStep:  s.GlobalStep,
		SamplesSeen: s.SamplesSeen,
		Epoch:       s.Epoch,
	}
}

// SetState restores a state captured by GetState.
func (s *StateManager) SetState(state TrainingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GlobalStep = state.GlobalStep
	s.SamplesSeen = state.SamplesSeen
	s.Epoch = state.Epoch
}
