package repl

import (
	"sync"

	"github.com/google/uuid"
)

// ExternalState is the narrow collaborator interface the Coordinator
// consumes instead of talking to the storage engine or network layer
// directly (§6, §9 "cycles avoided"). There are no back-edges: ExternalState
// never calls back into the Coordinator.
type ExternalState interface {
	LoadLocalConfigDocument() (Config, bool, error)
	StoreLocalConfigDocument(cfg Config) error
	LoadLastOpTime() (OpTime, error)
	EnsureMe() (RID, error)
	StartThreads() error
	ForwardSlaveProgress()
	ForwardSlaveHandshake(rid RID, memberID int)
	SignalApplierToChooseNewSyncSource()
	CloseConnections()
	DropAllTempCollections() error
	RollbackID() int
	IncrementRollbackID() int
}

// InProcessExternalState is the default ExternalState implementation for a
// single-process deployment: the local config document and rollback id live
// in memory, guarded by a mutex, with no durability layer: nothing survives
// a process restart.
type InProcessExternalState struct {
	mu sync.Mutex

	rid        RID
	hasConfig  bool
	config     Config
	lastOpTime OpTime
	rollbackID int

	onForwardProgress  func()
	onForwardHandshake func(rid RID, memberID int)
	onSyncSourceHint   func()
	onCloseConns       func()
	onDropTemp         func() error
}

// NewInProcessExternalState builds an ExternalState with no configuration
// loaded yet. Hooks left nil are no-ops, letting tests exercise only the
// paths they care about.
func NewInProcessExternalState() *InProcessExternalState {
	return &InProcessExternalState{}
}

func (s *InProcessExternalState) LoadLocalConfigDocument() (Config, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, s.hasConfig, nil
}

func (s *InProcessExternalState) StoreLocalConfigDocument(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.hasConfig = true
	return nil
}

func (s *InProcessExternalState) LoadLastOpTime() (OpTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOpTime, nil
}

// EnsureMe returns the local node's stable RID, generating one with a
// cryptographically-backed UUID the first time it is called.
func (s *InProcessExternalState) EnsureMe() (RID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rid == "" {
		s.rid = RID(uuid.NewString())
	}
	return s.rid, nil
}

func (s *InProcessExternalState) StartThreads() error { return nil }

func (s *InProcessExternalState) ForwardSlaveProgress() {
	if s.onForwardProgress != nil {
		s.onForwardProgress()
	}
}

func (s *InProcessExternalState) ForwardSlaveHandshake(rid RID, memberID int) {
	if s.onForwardHandshake != nil {
		s.onForwardHandshake(rid, memberID)
	}
}

func (s *InProcessExternalState) SignalApplierToChooseNewSyncSource() {
	if s.onSyncSourceHint != nil {
		s.onSyncSourceHint()
	}
}

func (s *InProcessExternalState) CloseConnections() {
	if s.onCloseConns != nil {
		s.onCloseConns()
	}
}

func (s *InProcessExternalState) DropAllTempCollections() error {
	if s.onDropTemp != nil {
		return s.onDropTemp()
	}
	return nil
}

func (s *InProcessExternalState) RollbackID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackID
}

func (s *InProcessExternalState) IncrementRollbackID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackID++
	return s.rollbackID
}

// SetHooks installs optional callback hooks, used by tests and by the
// embedder wiring this state to real storage/network collaborators.
func (s *InProcessExternalState) SetHooks(onForwardProgress func(), onForwardHandshake func(rid RID, memberID int), onSyncSourceHint func(), onCloseConns func(), onDropTemp func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onForwardProgress = onForwardProgress
	s.onForwardHandshake = onForwardHandshake
	s.onSyncSourceHint = onSyncSourceHint
	s.onCloseConns = onCloseConns
	s.onDropTemp = onDropTemp
}
