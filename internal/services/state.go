package services

import (
	"sync"
)

// Phase of the update pipeline.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecking
	PhaseAvailable
	PhaseDownloading
	PhaseInstalling
	PhaseFailed
)

var phaseNames = [...]string{"idle", "checking", "available", "downloading", "installing", "failed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// State is a copy of the observable update state.
type State struct {
	Phase              Phase  `yaml:"phase"`
	LatestVersion      string `yaml:"latest_version,omitempty"`
	ReleaseNotes       string `yaml:"release_notes,omitempty"`
	StagedArtifactPath string `yaml:"staged_artifact_path,omitempty"`
	LastError          error  `yaml:"-"`
}

const subscriberBuffer = 16

// StateStore holds the update state and fans changes out to subscribers.
// Only the Updater that owns it changes it.
type StateStore struct {
	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

func NewStateStore() *StateStore {
	return &StateStore{subs: make(map[int]chan State)}
}

// Snapshot returns the current state.
func (s *StateStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel of state changes and a func that closes it.
// A subscriber that falls behind loses the oldest undelivered changes.
func (s *StateStore) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan State, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *StateStore) update(fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.state)
	snapshot := s.state
	for _, ch := range s.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
	return snapshot
}
