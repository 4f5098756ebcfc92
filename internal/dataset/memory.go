package dataset

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/labsweep/internal/sweeperr"
)

// Record is everything a vault holds for one dataset.
type Record struct {
	ID           string
	Name         string
	Location     []string
	Independents []string
	Dependents   []string
	Comments     []Comment
	Parameters   []Parameter
	Rows         [][]float64
}

// MemoryVault keeps datasets in process memory. It is used for dry runs and
// tests. Directories are implicit; a missing directory only fails Cd when
// create is false.
type MemoryVault struct {
	mu       sync.Mutex
	dirs     map[string]bool
	datasets []*Record

	// FailAdd, FailComment and FailParameter inject write errors.
	FailAdd       error
	FailComment   error
	FailParameter error
}

// NewMemoryVault returns an empty vault containing only the root directory.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{dirs: map[string]bool{"": true}}
}

// Open implements Vault.
func (v *MemoryVault) Open() (Session, error) {
	return &memorySession{vault: v}, nil
}

// Datasets returns copies of every stored dataset in creation order.
func (v *MemoryVault) Datasets() []Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Record, len(v.datasets))
	for i, r := range v.datasets {
		out[i] = *r
		out[i].Rows = make([][]float64, len(r.Rows))
		for j, row := range r.Rows {
			out[i].Rows[j] = append([]float64(nil), row...)
		}
		out[i].Comments = append([]Comment(nil), r.Comments...)
		out[i].Parameters = append([]Parameter(nil), r.Parameters...)
	}
	return out
}

// Dataset returns the dataset with the given id.
func (v *MemoryVault) Dataset(id string) (Record, bool) {
	for _, r := range v.Datasets() {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

type memorySession struct {
	vault   *MemoryVault
	cwd     []string
	current *Record
	closed  bool
}

func (s *memorySession) check() error {
	if s.closed {
		return fmt.Errorf("%w: session closed", sweeperr.ErrInvalidState)
	}
	return nil
}

func (s *memorySession) Cd(path []string, create bool) error {
	if err := s.check(); err != nil {
		return err
	}
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	for i := 1; i <= len(path); i++ {
		key := strings.Join(path[:i], "/")
		if !s.vault.dirs[key] {
			if !create {
				return fmt.Errorf("%w: directory %q does not exist", sweeperr.ErrInvalidArgument, key)
			}
			s.vault.dirs[key] = true
		}
	}
	s.cwd = append([]string(nil), path...)
	return nil
}

func (s *memorySession) New(name string, independents, dependents []string) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	r := &Record{
		ID:           uuid.NewString(),
		Name:         name,
		Location:     append([]string(nil), s.cwd...),
		Independents: append([]string(nil), independents...),
		Dependents:   append([]string(nil), dependents...),
	}
	s.vault.mu.Lock()
	s.vault.datasets = append(s.vault.datasets, r)
	s.vault.mu.Unlock()
	s.current = r
	return r.ID, nil
}

func (s *memorySession) dataset() (*Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if s.current == nil {
		return nil, fmt.Errorf("%w: no dataset open in session", sweeperr.ErrInvalidState)
	}
	return s.current, nil
}

func (s *memorySession) Add(rows [][]float64) error {
	r, err := s.dataset()
	if err != nil {
		return err
	}
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	if s.vault.FailAdd != nil {
		return s.vault.FailAdd
	}
	width := len(r.Independents) + len(r.Dependents)
	for _, row := range rows {
		if len(row) != width {
			return fmt.Errorf("%w: row has %d values, dataset has %d columns", sweeperr.ErrInvalidArgument, len(row), width)
		}
	}
	for _, row := range rows {
		r.Rows = append(r.Rows, append([]float64(nil), row...))
	}
	return nil
}

func (s *memorySession) AddComment(text, author string) error {
	r, err := s.dataset()
	if err != nil {
		return err
	}
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	if s.vault.FailComment != nil {
		return s.vault.FailComment
	}
	r.Comments = append(r.Comments, Comment{Text: text, Author: author})
	return nil
}

func (s *memorySession) AddParameter(p Parameter) error {
	r, err := s.dataset()
	if err != nil {
		return err
	}
	s.vault.mu.Lock()
	defer s.vault.mu.Unlock()
	if s.vault.FailParameter != nil {
		return s.vault.FailParameter
	}
	r.Parameters = append(r.Parameters, p)
	return nil
}

func (s *memorySession) Close() error {
	s.closed = true
	return nil
}
